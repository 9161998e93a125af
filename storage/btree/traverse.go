package btree

import (
	"bytes"
	"fmt"

	"btreeindex/internal/bterr"
	"btreeindex/storage/page"
)

// DisplayMode selects one of the three whole-tree dump formats Display
// supports.
type DisplayMode int

const (
	// DisplayDepth prints a depth-first, indented listing annotated
	// with each node's block number, kind, key range and occupancy.
	DisplayDepth DisplayMode = iota
	// DisplayDot prints a Graphviz "digraph tree" description of the
	// block-pointer structure.
	DisplayDot
	// DisplaySorted prints every (key, value) pair in ascending order,
	// one per line, with no structural annotation.
	DisplaySorted
)

// Lookup returns the value stored for key, or found == false if key is
// absent.
func (t *BTreeImpl) Lookup(key []byte) (value []byte, found bool, err error) {
	defer page.RecoverInsane(&err)
	if len(key) != t.keySize {
		return nil, false, bterr.WrapCorrupt("key of length %d does not match index key size %d", len(key), t.keySize)
	}

	block, err := t.rootBlock()
	if err != nil {
		return nil, false, err
	}
	for {
		node, err := t.pin(block)
		if err != nil {
			return nil, false, err
		}
		if node.IsLeaf() {
			idx, found := leafSearch(node, key)
			if !found {
				_ = t.unpin(block, false)
				return nil, false, nil
			}
			v := append([]byte{}, node.GetVal(idx)...)
			if err := t.unpin(block, false); err != nil {
				return nil, false, err
			}
			return v, true, nil
		}
		if !node.IsInterior() {
			_ = t.unpin(block, false)
			return nil, false, bterr.WrapInsane("lookup descended into block %d of kind %s", block, node.Header.Kind)
		}
		idx := interiorSearch(node, key)
		next := node.GetPtr(idx)
		if err := t.unpin(block, false); err != nil {
			return nil, false, err
		}
		block = next
	}
}

// Update overwrites the value stored for an existing key in place,
// failing with NotFound if key is absent.
func (t *BTreeImpl) Update(key, value []byte) (err error) {
	defer page.RecoverInsane(&err)
	if len(key) != t.keySize {
		return bterr.WrapCorrupt("key of length %d does not match index key size %d", len(key), t.keySize)
	}
	if len(value) != t.valueSize {
		return bterr.WrapCorrupt("value of length %d does not match index value size %d", len(value), t.valueSize)
	}

	block, err := t.rootBlock()
	if err != nil {
		return err
	}
	for {
		node, err := t.pin(block)
		if err != nil {
			return err
		}
		if node.IsLeaf() {
			idx, found := leafSearch(node, key)
			if !found {
				_ = t.unpin(block, false)
				return bterr.NotFoundf("key not present")
			}
			node.SetVal(idx, value)
			return t.unpin(block, true)
		}
		if !node.IsInterior() {
			_ = t.unpin(block, false)
			return bterr.WrapInsane("update descended into block %d of kind %s", block, node.Header.Kind)
		}
		idx := interiorSearch(node, key)
		next := node.GetPtr(idx)
		if err := t.unpin(block, false); err != nil {
			return err
		}
		block = next
	}
}

// walkLeaves visits every leaf block reachable from block, left to
// right, calling visit once per (key, value) pair in ascending order.
// It is the traversal primitive RangeQuery and Display(DisplaySorted)
// build on, in place of a sibling chain; SanityCheck runs its own
// walk of the same shape (sanityWalk).
func (t *BTreeImpl) walkLeaves(block uint64, visit func(key, val []byte) error) error {
	node, err := t.pin(block)
	if err != nil {
		return err
	}

	if node.IsLeaf() {
		numKeys := node.NumKeys()
		for i := 0; i < numKeys; i++ {
			k, v := node.GetKV(i)
			if err := visit(k, v); err != nil {
				_ = t.unpin(block, false)
				return err
			}
		}
		return t.unpin(block, false)
	}
	if !node.IsInterior() {
		_ = t.unpin(block, false)
		return bterr.WrapInsane("traversal reached block %d of kind %s", block, node.Header.Kind)
	}

	children := make([]uint64, node.NumKeys()+1)
	for i := range children {
		children[i] = node.GetPtr(i)
	}
	if err := t.unpin(block, false); err != nil {
		return err
	}
	for _, child := range children {
		if err := t.walkLeaves(child, visit); err != nil {
			return err
		}
	}
	return nil
}

// RangeQuery returns every entry with low <= key <= high, in ascending
// order, via a full in-order walk of the tree.
func (t *BTreeImpl) RangeQuery(low, high []byte) (result []Entry, err error) {
	defer page.RecoverInsane(&err)
	root, err := t.rootBlock()
	if err != nil {
		return nil, err
	}
	err = t.walkLeaves(root, func(key, val []byte) error {
		if bytes.Compare(key, low) >= 0 && bytes.Compare(key, high) <= 0 {
			result = append(result, Entry{Key: append([]byte{}, key...), Value: append([]byte{}, val...)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sanityState threads the two checks InOrderCheck performed in one
// pass in the source across this module's separated recursion: the
// previous key seen anywhere in the traversal (for the global
// ascending check) and the min/max leaf depth seen so far (for the
// uniform-depth check).
type sanityState struct {
	havePrev bool
	prevKey  []byte
	minDepth int
	maxDepth int
}

// SanityCheck verifies the tree is well-formed: keys strictly ascend
// across the entire in-order traversal (not just within one node),
// every leaf sits at the same depth, and every non-root node is at
// least half full. The root is exempt from the occupancy check exactly
// once, closing the gap the source's SanityCheck left open.
func (t *BTreeImpl) SanityCheck() (err error) {
	defer page.RecoverInsane(&err)
	root, err := t.rootBlock()
	if err != nil {
		return err
	}
	st := &sanityState{minDepth: -1, maxDepth: -1}
	if err := t.sanityWalk(root, 0, true, st); err != nil {
		return err
	}
	if st.minDepth != st.maxDepth {
		return bterr.WrapInsane("leaf depths are not uniform: min %d, max %d", st.minDepth, st.maxDepth)
	}
	return nil
}

func (t *BTreeImpl) sanityWalk(block uint64, depth int, isRoot bool, st *sanityState) error {
	node, err := t.pin(block)
	if err != nil {
		return err
	}

	if node.IsLeaf() {
		numKeys := node.NumKeys()
		if !isRoot && numKeys < page.MinOccupancy(node.Layout.LeafCapacity) {
			_ = t.unpin(block, false)
			return bterr.WrapInsane("leaf block %d has %d keys, below half-full threshold", block, numKeys)
		}
		for i := 0; i < numKeys; i++ {
			k := node.GetKey(i)
			if st.havePrev && bytes.Compare(k, st.prevKey) <= 0 {
				_ = t.unpin(block, false)
				return bterr.WrapInsane("keys out of order at block %d: %x does not exceed %x", block, k, st.prevKey)
			}
			st.havePrev = true
			st.prevKey = append([]byte{}, k...)
		}
		if st.minDepth == -1 || depth < st.minDepth {
			st.minDepth = depth
		}
		if depth > st.maxDepth {
			st.maxDepth = depth
		}
		return t.unpin(block, false)
	}
	if !node.IsInterior() {
		_ = t.unpin(block, false)
		return bterr.WrapInsane("sanity walk reached block %d of kind %s", block, node.Header.Kind)
	}

	numKeys := node.NumKeys()
	if !isRoot && numKeys < page.MinOccupancy(node.Layout.InteriorCapacity) {
		_ = t.unpin(block, false)
		return bterr.WrapInsane("interior block %d has %d keys, below half-full threshold", block, numKeys)
	}
	children := make([]uint64, numKeys+1)
	for i := range children {
		children[i] = node.GetPtr(i)
	}
	if err := t.unpin(block, false); err != nil {
		return err
	}
	for _, child := range children {
		if err := t.sanityWalk(child, depth+1, false, st); err != nil {
			return err
		}
	}
	return nil
}

// Display writes a whole-tree dump in the requested mode.
func (t *BTreeImpl) Display(mode DisplayMode, w interface{ Write([]byte) (int, error) }) (err error) {
	defer page.RecoverInsane(&err)
	root, err := t.rootBlock()
	if err != nil {
		return err
	}

	switch mode {
	case DisplaySorted:
		return t.walkLeaves(root, func(key, val []byte) error {
			_, err := fmt.Fprintf(w, "%x -> %x\n", key, val)
			return err
		})
	case DisplayDot:
		if _, err := fmt.Fprintf(w, "digraph tree {\n"); err != nil {
			return err
		}
		if err := t.displayDot(root, w); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "}\n")
		return err
	default:
		return t.displayDepth(root, 0, w)
	}
}

func (t *BTreeImpl) displayDepth(block uint64, depth int, w interface{ Write([]byte) (int, error) }) error {
	node, err := t.pin(block)
	if err != nil {
		return err
	}
	indent := bytes.Repeat([]byte("  "), depth)

	numKeys := node.NumKeys()
	occ := numKeys
	cap := node.Layout.KeyCapacity(node.Header.EffectiveKind())
	var keyRange string
	if numKeys > 0 {
		keyRange = fmt.Sprintf("%x..%x", node.GetKey(0), node.GetKey(numKeys-1))
	} else {
		keyRange = "(empty)"
	}
	if _, err := fmt.Fprintf(w, "%sblock %d [%s] keys=%d/%d range=%s\n", indent, block, node.Header.EffectiveKind(), occ, cap, keyRange); err != nil {
		_ = t.unpin(block, false)
		return err
	}

	if node.IsLeaf() {
		return t.unpin(block, false)
	}
	if !node.IsInterior() {
		_ = t.unpin(block, false)
		return bterr.WrapInsane("display reached block %d of kind %s", block, node.Header.Kind)
	}

	children := make([]uint64, numKeys+1)
	for i := range children {
		children[i] = node.GetPtr(i)
	}
	if err := t.unpin(block, false); err != nil {
		return err
	}
	for _, child := range children {
		if err := t.displayDepth(child, depth+1, w); err != nil {
			return err
		}
	}
	return nil
}

func (t *BTreeImpl) displayDot(block uint64, w interface{ Write([]byte) (int, error) }) error {
	node, err := t.pin(block)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%d [label=\"%d (%s)\"];\n", block, block, node.Header.EffectiveKind()); err != nil {
		_ = t.unpin(block, false)
		return err
	}

	if node.IsLeaf() {
		return t.unpin(block, false)
	}
	if !node.IsInterior() {
		_ = t.unpin(block, false)
		return bterr.WrapInsane("display reached block %d of kind %s", block, node.Header.Kind)
	}

	numKeys := node.NumKeys()
	children := make([]uint64, numKeys+1)
	for i := range children {
		children[i] = node.GetPtr(i)
	}
	if err := t.unpin(block, false); err != nil {
		return err
	}
	for _, child := range children {
		if _, err := fmt.Fprintf(w, "%d -> %d;\n", block, child); err != nil {
			return err
		}
		if err := t.displayDot(child, w); err != nil {
			return err
		}
	}
	return nil
}
