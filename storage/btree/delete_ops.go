package btree

import (
	"btreeindex/internal/bterr"
	"btreeindex/storage/page"
)

// deleteOutcome reports whether the node just visited fell below its
// half-full threshold after the deletion, the same way splitResult
// reports an overflow: an upward signal the parent acts on.
type deleteOutcome struct {
	underflow bool
}

// Delete removes key, failing with NotFound if it is absent. On
// underflow it attempts borrow-from-left, then borrow-from-right, then
// merge, exactly as spec.md §4.6 requires, and collapses the root when
// a merge leaves it with a single child.
func (t *BTreeImpl) Delete(key []byte) (err error) {
	defer page.RecoverInsane(&err)
	if len(key) != t.keySize {
		return bterr.WrapCorrupt("key of length %d does not match index key size %d", len(key), t.keySize)
	}

	root, err := t.rootBlock()
	if err != nil {
		return err
	}
	if _, err := t.deleteRecursive(root, key, true); err != nil {
		return err
	}
	return nil
}

func (t *BTreeImpl) deleteRecursive(block uint64, key []byte, isRoot bool) (deleteOutcome, error) {
	node, err := t.pin(block)
	if err != nil {
		return deleteOutcome{}, err
	}

	if node.IsLeaf() {
		return t.deleteFromLeaf(block, node, key, isRoot)
	}
	if !node.IsInterior() {
		_ = t.unpin(block, false)
		return deleteOutcome{}, bterr.WrapInsane("delete descended into block %d of kind %s", block, node.Header.Kind)
	}

	idx := interiorSearch(node, key)
	childID := node.GetPtr(idx)
	if err := t.unpin(block, false); err != nil {
		return deleteOutcome{}, err
	}

	childOutcome, err := t.deleteRecursive(childID, key, false)
	if err != nil {
		return deleteOutcome{}, err
	}
	if !childOutcome.underflow {
		return deleteOutcome{}, nil
	}

	node, err = t.pin(block)
	if err != nil {
		return deleteOutcome{}, err
	}
	return t.handleUnderflow(block, node, idx, isRoot)
}

func (t *BTreeImpl) deleteFromLeaf(block uint64, node *page.Node, key []byte, isRoot bool) (deleteOutcome, error) {
	idx, found := leafSearch(node, key)
	if !found {
		_ = t.unpin(block, false)
		return deleteOutcome{}, bterr.NotFoundf("key not present")
	}

	numKeys := node.NumKeys()
	for i := idx; i < numKeys-1; i++ {
		k, v := node.GetKV(i + 1)
		node.SetKV(i, k, v)
	}
	node.SetNumKeys(numKeys - 1)
	if err := t.unpin(block, true); err != nil {
		return deleteOutcome{}, err
	}

	underflow := !isRoot && numKeys-1 < page.MinOccupancy(node.Layout.LeafCapacity)
	return deleteOutcome{underflow: underflow}, nil
}

// handleUnderflow is invoked on an interior node, pinned and holding
// pointer idx to a child that just underflowed. It tries borrow from
// the left sibling, then the right sibling, then falls back to a
// merge, and reports whether this node itself now underflows (or, for
// the root, collapses height instead of ever reporting underflow).
func (t *BTreeImpl) handleUnderflow(block uint64, node *page.Node, idx int, isRoot bool) (deleteOutcome, error) {
	childID := node.GetPtr(idx)
	child, err := t.pin(childID)
	if err != nil {
		_ = t.unpin(block, false)
		return deleteOutcome{}, err
	}

	if child.IsLeaf() {
		return t.handleLeafUnderflow(block, node, idx, childID, child, isRoot)
	}
	return t.handleInteriorUnderflow(block, node, idx, childID, child, isRoot)
}

func (t *BTreeImpl) handleLeafUnderflow(block uint64, node *page.Node, idx int, childID uint64, child *page.Node, isRoot bool) (deleteOutcome, error) {
	leafMin := page.MinOccupancy(child.Layout.LeafCapacity)

	if idx > 0 {
		leftID := node.GetPtr(idx - 1)
		left, err := t.pin(leftID)
		if err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
		if left.NumKeys() > leafMin {
			borrowFromLeftLeaf(node, idx, left, child)
			if err := t.unpin(leftID, true); err != nil {
				return deleteOutcome{}, err
			}
			if err := t.unpin(childID, true); err != nil {
				return deleteOutcome{}, err
			}
			return t.finishInteriorUpdate(block, node, isRoot)
		}
		if err := t.unpin(leftID, false); err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
	}

	if idx < node.NumKeys() {
		rightID := node.GetPtr(idx + 1)
		right, err := t.pin(rightID)
		if err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
		if right.NumKeys() > leafMin {
			borrowFromRightLeaf(node, idx, child, right)
			if err := t.unpin(rightID, true); err != nil {
				return deleteOutcome{}, err
			}
			if err := t.unpin(childID, true); err != nil {
				return deleteOutcome{}, err
			}
			return t.finishInteriorUpdate(block, node, isRoot)
		}
		if err := t.unpin(rightID, false); err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
	}

	// Neither sibling can spare an entry: merge.
	if idx > 0 {
		leftID := node.GetPtr(idx - 1)
		left, err := t.pin(leftID)
		if err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
		mergeLeaves(left, child)
		if err := t.unpin(leftID, true); err != nil {
			return deleteOutcome{}, err
		}
		if err := t.unpin(childID, false); err != nil {
			return deleteOutcome{}, err
		}
		if err := t.deallocate(childID); err != nil {
			return deleteOutcome{}, err
		}
		removeParentSlot(node, idx-1, idx)
		return t.finishInteriorUpdate(block, node, isRoot)
	}

	rightID := node.GetPtr(idx + 1)
	right, err := t.pin(rightID)
	if err != nil {
		_ = t.unpin(childID, false)
		_ = t.unpin(block, false)
		return deleteOutcome{}, err
	}
	mergeLeaves(child, right)
	if err := t.unpin(childID, true); err != nil {
		return deleteOutcome{}, err
	}
	if err := t.unpin(rightID, false); err != nil {
		return deleteOutcome{}, err
	}
	if err := t.deallocate(rightID); err != nil {
		return deleteOutcome{}, err
	}
	removeParentSlot(node, idx, idx+1)
	return t.finishInteriorUpdate(block, node, isRoot)
}

func (t *BTreeImpl) handleInteriorUnderflow(block uint64, node *page.Node, idx int, childID uint64, child *page.Node, isRoot bool) (deleteOutcome, error) {
	interiorMin := page.MinOccupancy(child.Layout.InteriorCapacity)

	if idx > 0 {
		leftID := node.GetPtr(idx - 1)
		left, err := t.pin(leftID)
		if err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
		if left.NumKeys() > interiorMin {
			borrowFromLeftInterior(node, idx, left, child)
			if err := t.unpin(leftID, true); err != nil {
				return deleteOutcome{}, err
			}
			if err := t.unpin(childID, true); err != nil {
				return deleteOutcome{}, err
			}
			return t.finishInteriorUpdate(block, node, isRoot)
		}
		if err := t.unpin(leftID, false); err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
	}

	if idx < node.NumKeys() {
		rightID := node.GetPtr(idx + 1)
		right, err := t.pin(rightID)
		if err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
		if right.NumKeys() > interiorMin {
			borrowFromRightInterior(node, idx, child, right)
			if err := t.unpin(rightID, true); err != nil {
				return deleteOutcome{}, err
			}
			if err := t.unpin(childID, true); err != nil {
				return deleteOutcome{}, err
			}
			return t.finishInteriorUpdate(block, node, isRoot)
		}
		if err := t.unpin(rightID, false); err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
	}

	if idx > 0 {
		leftID := node.GetPtr(idx - 1)
		left, err := t.pin(leftID)
		if err != nil {
			_ = t.unpin(childID, false)
			_ = t.unpin(block, false)
			return deleteOutcome{}, err
		}
		mergeInteriors(left, node.GetKey(idx-1), child)
		if err := t.unpin(leftID, true); err != nil {
			return deleteOutcome{}, err
		}
		if err := t.unpin(childID, false); err != nil {
			return deleteOutcome{}, err
		}
		if err := t.deallocate(childID); err != nil {
			return deleteOutcome{}, err
		}
		removeParentSlot(node, idx-1, idx)
		return t.finishInteriorUpdate(block, node, isRoot)
	}

	rightID := node.GetPtr(idx + 1)
	right, err := t.pin(rightID)
	if err != nil {
		_ = t.unpin(childID, false)
		_ = t.unpin(block, false)
		return deleteOutcome{}, err
	}
	mergeInteriors(child, node.GetKey(idx), right)
	if err := t.unpin(childID, true); err != nil {
		return deleteOutcome{}, err
	}
	if err := t.unpin(rightID, false); err != nil {
		return deleteOutcome{}, err
	}
	if err := t.deallocate(rightID); err != nil {
		return deleteOutcome{}, err
	}
	removeParentSlot(node, idx, idx+1)
	return t.finishInteriorUpdate(block, node, isRoot)
}

// finishInteriorUpdate persists node (now possibly one key/pointer
// shorter after a merge) and either reports its own underflow upward
// or, for the root, collapses the tree's height when only one child
// remains.
func (t *BTreeImpl) finishInteriorUpdate(block uint64, node *page.Node, isRoot bool) (deleteOutcome, error) {
	if isRoot {
		if node.NumKeys() == 0 {
			onlyChild := node.GetPtr(0)
			if err := t.unpin(block, true); err != nil {
				return deleteOutcome{}, err
			}
			return deleteOutcome{}, t.collapseRoot(block, onlyChild)
		}
		if err := t.unpin(block, true); err != nil {
			return deleteOutcome{}, err
		}
		return deleteOutcome{}, nil
	}

	underflow := node.NumKeys() < page.MinOccupancy(node.Layout.InteriorCapacity)
	if err := t.unpin(block, true); err != nil {
		return deleteOutcome{}, err
	}
	return deleteOutcome{underflow: underflow}, nil
}

// collapseRoot retags onlyChild as the new root and returns oldRoot to
// the free list, the inverse of growRoot.
func (t *BTreeImpl) collapseRoot(oldRoot, onlyChild uint64) error {
	child, err := t.pin(onlyChild)
	if err != nil {
		return err
	}
	shape := child.Header.EffectiveKind()
	child.SetKind(page.KindRoot)
	if shape == page.KindInterior {
		child.PromoteRootShape()
	}
	if err := t.unpin(onlyChild, true); err != nil {
		return err
	}
	if err := t.deallocate(oldRoot); err != nil {
		return err
	}
	return t.setRootBlock(onlyChild)
}

// removeParentSlot deletes key index keyIdx and pointer index ptrIdx
// from an interior node after a merge folded one child into another.
func removeParentSlot(node *page.Node, keyIdx, ptrIdx int) {
	numKeys := node.NumKeys()
	for i := keyIdx; i < numKeys-1; i++ {
		node.SetKey(i, node.GetKey(i+1))
	}
	for i := ptrIdx; i < numKeys; i++ {
		node.SetPtr(i, node.GetPtr(i+1))
	}
	node.SetNumKeys(numKeys - 1)
}

func borrowFromLeftLeaf(parent *page.Node, idx int, left, child *page.Node) {
	n := left.NumKeys()
	k, v := left.GetKV(n - 1)
	k = append([]byte{}, k...)
	v = append([]byte{}, v...)
	newSeparator := append([]byte{}, left.GetKey(n-2)...)
	left.SetNumKeys(n - 1)

	m := child.NumKeys()
	for i := m; i > 0; i-- {
		ck, cv := child.GetKV(i - 1)
		child.SetKV(i, ck, cv)
	}
	child.SetKV(0, k, v)
	child.SetNumKeys(m + 1)

	// The separator must be left's new maximum, not the key just moved
	// into child: keys <= Ki still route into left (search.go), and
	// that key now lives in child.
	parent.SetKey(idx-1, newSeparator)
}

func borrowFromRightLeaf(parent *page.Node, idx int, child, right *page.Node) {
	k, v := right.GetKV(0)
	k = append([]byte{}, k...)
	v = append([]byte{}, v...)

	m := child.NumKeys()
	child.SetKV(m, k, v)
	child.SetNumKeys(m + 1)

	n := right.NumKeys()
	for i := 0; i < n-1; i++ {
		rk, rv := right.GetKV(i + 1)
		right.SetKV(i, rk, rv)
	}
	right.SetNumKeys(n - 1)

	// The separator must become the key just moved into child (child's
	// new maximum), matching splitLeaf's promoted-key convention, not
	// right's new minimum after the shift above.
	parent.SetKey(idx, k)
}

// mergeLeaves appends right's entries onto left. Caller deallocates
// right and removes its parent slot afterward.
func mergeLeaves(left, right *page.Node) {
	base := left.NumKeys()
	for i := 0; i < right.NumKeys(); i++ {
		k, v := right.GetKV(i)
		left.SetKV(base+i, k, v)
	}
	left.SetNumKeys(base + right.NumKeys())
}

func borrowFromLeftInterior(parent *page.Node, idx int, left, child *page.Node) {
	n := left.NumKeys()
	borrowedPtr := left.GetPtr(n)
	borrowedKey := append([]byte{}, left.GetKey(n-1)...)
	left.SetNumKeys(n - 1)

	m := child.NumKeys()
	for i := m; i > 0; i-- {
		child.SetKey(i, child.GetKey(i-1))
	}
	for i := m + 1; i > 0; i-- {
		child.SetPtr(i, child.GetPtr(i-1))
	}
	child.SetKey(0, append([]byte{}, parent.GetKey(idx-1)...))
	child.SetPtr(0, borrowedPtr)
	child.SetNumKeys(m + 1)

	parent.SetKey(idx-1, borrowedKey)
}

func borrowFromRightInterior(parent *page.Node, idx int, child, right *page.Node) {
	m := child.NumKeys()
	child.SetKey(m, append([]byte{}, parent.GetKey(idx)...))
	child.SetPtr(m+1, right.GetPtr(0))
	child.SetNumKeys(m + 1)

	promoted := append([]byte{}, right.GetKey(0)...)
	n := right.NumKeys()
	for i := 0; i < n-1; i++ {
		right.SetKey(i, right.GetKey(i+1))
	}
	for i := 0; i < n; i++ {
		right.SetPtr(i, right.GetPtr(i+1))
	}
	right.SetNumKeys(n - 1)

	parent.SetKey(idx, promoted)
}

// mergeInteriors appends separator and right's keys/pointers onto
// left. Caller deallocates right and removes its parent slot
// afterward.
func mergeInteriors(left *page.Node, separator []byte, right *page.Node) {
	base := left.NumKeys()
	left.SetKey(base, separator)
	left.SetPtr(base+1, right.GetPtr(0))
	for i := 0; i < right.NumKeys(); i++ {
		left.SetKey(base+1+i, right.GetKey(i))
		left.SetPtr(base+2+i, right.GetPtr(i+1))
	}
	left.SetNumKeys(base + 1 + right.NumKeys())
}
