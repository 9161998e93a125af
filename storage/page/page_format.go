// Package page implements the node codec: packing a variable number of
// (key, value) or (key, pointer) entries into a fixed-size block, and
// parsing them back out. Layout is parameterized by three sizes baked
// into every block's header at index-creation time: KeySize (K),
// ValueSize (V) and BlockSize (B).
//
// The codec enforces no structural invariant beyond "does this block
// decode at all" — occupancy, ordering and reachability are the tree
// mutation algorithms' job (storage/btree).
package page

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"btreeindex/internal/bterr"
)

// Kind tags the variant a block currently holds.
type Kind byte

const (
	KindSuperblock Kind = 1
	KindRoot       Kind = 2
	KindInterior   Kind = 3
	KindLeaf       Kind = 4
	KindFree       Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindSuperblock:
		return "superblock"
	case KindRoot:
		return "root"
	case KindInterior:
		return "interior"
	case KindLeaf:
		return "leaf"
	case KindFree:
		return "free"
	default:
		return "unknown"
	}
}

// Header offsets. Every block, regardless of kind, carries this same
// 32-byte header; RootNode and FreeList are only meaningful when Kind is
// KindSuperblock, readers must ignore them elsewhere.
const (
	offKind      = 0
	offReserved  = 1
	offNumKeys   = 2
	offKeySize   = 4
	offValueSize = 8
	offBlockSize = 12
	offRootNode  = 16
	offFreeList  = 24
	HeaderSize   = 32

	// PointerSize is the width of an on-disk block number.
	PointerSize = 8
)

// Header is the decoded, in-memory form of a block's fixed header.
//
// Shape only matters when Kind is KindRoot: the root block is always
// tagged KindRoot regardless of whether the tree currently has any
// interior levels, so Shape records whether this particular root block
// is laid out as a leaf (ShapeLeaf, true until the first split) or as
// an interior node (ShapeInterior, from then on). Leaf and Interior
// blocks carry their shape in their Kind directly and Shape is ignored
// for them (a demoted interior root keeps Shape 1).
type Header struct {
	Kind      Kind
	Shape     byte
	NumKeys   uint16
	KeySize   uint32
	ValueSize uint32
	BlockSize uint32
	RootNode  uint64
	FreeList  uint64
}

const (
	ShapeLeaf     byte = 0
	ShapeInterior byte = 1
)

// EffectiveKind returns KindLeaf or KindInterior: the physical layout
// this block actually uses, resolving KindRoot through Shape.
func (h Header) EffectiveKind() Kind {
	if h.Kind == KindRoot {
		if h.Shape == ShapeInterior {
			return KindInterior
		}
		return KindLeaf
	}
	return h.Kind
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, bterr.WrapCorrupt("block of %d bytes too small for header", len(buf))
	}
	h := Header{
		Kind:      Kind(buf[offKind]),
		Shape:     buf[offReserved],
		NumKeys:   binary.LittleEndian.Uint16(buf[offNumKeys:]),
		KeySize:   binary.LittleEndian.Uint32(buf[offKeySize:]),
		ValueSize: binary.LittleEndian.Uint32(buf[offValueSize:]),
		BlockSize: binary.LittleEndian.Uint32(buf[offBlockSize:]),
		RootNode:  binary.LittleEndian.Uint64(buf[offRootNode:]),
		FreeList:  binary.LittleEndian.Uint64(buf[offFreeList:]),
	}
	switch h.Kind {
	case KindSuperblock, KindRoot, KindInterior, KindLeaf, KindFree:
	default:
		return Header{}, bterr.WrapCorrupt("unknown block tag %d", buf[offKind])
	}
	return h, nil
}

func encodeHeader(buf []byte, h Header) {
	buf[offKind] = byte(h.Kind)
	buf[offReserved] = h.Shape
	binary.LittleEndian.PutUint16(buf[offNumKeys:], h.NumKeys)
	binary.LittleEndian.PutUint32(buf[offKeySize:], h.KeySize)
	binary.LittleEndian.PutUint32(buf[offValueSize:], h.ValueSize)
	binary.LittleEndian.PutUint32(buf[offBlockSize:], h.BlockSize)
	binary.LittleEndian.PutUint64(buf[offRootNode:], h.RootNode)
	binary.LittleEndian.PutUint64(buf[offFreeList:], h.FreeList)
}

// Layout captures the slot geometry derived from K, V and B. It is
// recomputed from a decoded header rather than carried separately, so
// that Decode(buffer) -> Node stays total over any well-formed block.
type Layout struct {
	KeySize   int
	ValueSize int
	BlockSize int

	LeafCapacity     int // max (key,value) entries per leaf
	InteriorCapacity int // max keys per interior/root node (pointers = keys+1)
}

// NewLayout computes slot capacities for the given sizes:
//
//	leaf capacity     = floor((B - HeaderSize - PointerSize) / (K + V))
//	interior capacity = floor((B - HeaderSize - PointerSize) / (PointerSize + K))
//
// The PointerSize subtracted from the leaf formula is a reserved
// leading slot that is never dereferenced; for interior nodes it is the
// trailing child pointer.
func NewLayout(keySize, valueSize, blockSize int) (Layout, error) {
	if keySize <= 0 || valueSize <= 0 {
		return Layout{}, errors.Newf("key size (%d) and value size (%d) must be positive", keySize, valueSize)
	}
	avail := blockSize - HeaderSize - PointerSize
	if avail <= 0 {
		return Layout{}, errors.Newf("block size %d too small for header", blockSize)
	}
	leafCap := avail / (keySize + valueSize)
	interiorCap := avail / (PointerSize + keySize)
	if leafCap < 2 || interiorCap < 2 {
		return Layout{}, errors.Newf("block size %d too small to hold a half-full node for key=%d value=%d", blockSize, keySize, valueSize)
	}
	return Layout{
		KeySize:          keySize,
		ValueSize:        valueSize,
		BlockSize:        blockSize,
		LeafCapacity:     leafCap,
		InteriorCapacity: interiorCap,
	}, nil
}

// MinOccupancy is the half-full threshold for a non-root node of the
// given capacity: ceil((capacity+1)/2) - 1, which reduces to
// capacity/2 (integer division).
func MinOccupancy(capacity int) int {
	return capacity / 2
}

// KeyCapacity returns the maximum key slots for a node of this kind
// under this layout.
func (l Layout) KeyCapacity(kind Kind) int {
	switch kind {
	case KindLeaf:
		return l.LeafCapacity
	case KindInterior, KindRoot:
		return l.InteriorCapacity
	default:
		return 0
	}
}

// Node is a decoded view over a block's bytes. Mutating accessors,
// including the header setters, write straight through to the
// underlying buffer; Encode only re-serializes the cached header
// fields, which is what makes encode(decode(b)) == b hold for any b
// previously produced by Encode.
type Node struct {
	Header Header
	Layout Layout
	raw    []byte
}

// Decode parses buf's header and returns a Node wrapping buf in place.
// An unrecognized tag or a header describing an impossible layout is
// reported as Corrupt.
func Decode(buf []byte) (*Node, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	layout, err := NewLayout(int(h.KeySize), int(h.ValueSize), int(h.BlockSize))
	if err != nil {
		return nil, bterr.WrapCorrupt("block header describes invalid layout: %s", err)
	}
	if len(buf) < layout.BlockSize {
		return nil, bterr.WrapCorrupt("block of %d bytes shorter than header blocksize %d", len(buf), layout.BlockSize)
	}
	return &Node{Header: h, Layout: layout, raw: buf[:layout.BlockSize]}, nil
}

// Encode flushes n's cached header fields into its buffer and returns
// that buffer.
func (n *Node) Encode() []byte {
	encodeHeader(n.raw, n.Header)
	return n.raw
}

// Init formats buf as a fresh, empty node of the given kind and returns
// the decoded Node.
func Init(buf []byte, kind Kind, keySize, valueSize, blockSize int) (*Node, error) {
	layout, err := NewLayout(keySize, valueSize, blockSize)
	if err != nil {
		return nil, err
	}
	if len(buf) < blockSize {
		return nil, errors.Newf("buffer of %d bytes too small for block size %d", len(buf), blockSize)
	}
	for i := range buf[:blockSize] {
		buf[i] = 0
	}
	n := &Node{
		Header: Header{
			Kind:      kind,
			KeySize:   uint32(keySize),
			ValueSize: uint32(valueSize),
			BlockSize: uint32(blockSize),
		},
		Layout: layout,
		raw:    buf[:blockSize],
	}
	n.Encode()
	return n, nil
}

func insane(format string, args ...interface{}) {
	panic(bterr.WrapInsane(format, args...))
}

// RecoverInsane turns a panic raised by this package's bounds checks
// into an error assigned through errp, and re-panics anything else.
// Callers at the top of an exported btree operation defer this so a
// programmer error surfaces as bterr.Insane instead of crashing the
// process.
func RecoverInsane(errp *error) {
	if r := recover(); r != nil {
		if err, ok := r.(error); ok && bterr.IsInsane(err) {
			*errp = err
			return
		}
		panic(r)
	}
}

func (n *Node) checkKeyIndex(i int) {
	cap := n.Layout.KeyCapacity(n.Header.EffectiveKind())
	if i < 0 || i >= cap {
		insane("key index %d out of range for %s node (capacity %d)", i, n.Header.Kind, cap)
	}
}

func (n *Node) checkPtrIndex(i int) {
	if i < 0 || i > n.Layout.InteriorCapacity {
		insane("pointer index %d out of range for interior node (capacity %d)", i, n.Layout.InteriorCapacity)
	}
}

func (n *Node) keyOffset(i int) int {
	switch n.Header.EffectiveKind() {
	case KindLeaf:
		return HeaderSize + PointerSize + i*(n.Layout.KeySize+n.Layout.ValueSize)
	case KindInterior:
		ptrBlock := (n.Layout.InteriorCapacity + 1) * PointerSize
		return HeaderSize + ptrBlock + i*n.Layout.KeySize
	default:
		insane("keyOffset called on %s node", n.Header.Kind)
		return 0
	}
}

func (n *Node) valOffset(i int) int {
	if n.Header.EffectiveKind() != KindLeaf {
		insane("valOffset called on %s node", n.Header.Kind)
	}
	return HeaderSize + PointerSize + i*(n.Layout.KeySize+n.Layout.ValueSize) + n.Layout.KeySize
}

func (n *Node) ptrOffset(i int) int {
	if n.Header.EffectiveKind() != KindInterior {
		insane("ptrOffset called on %s node", n.Header.Kind)
	}
	return HeaderSize + i*PointerSize
}

// GetKey returns the i-th key slot.
func (n *Node) GetKey(i int) []byte {
	n.checkKeyIndex(i)
	off := n.keyOffset(i)
	return n.raw[off : off+n.Layout.KeySize]
}

// SetKey writes key into the i-th key slot.
func (n *Node) SetKey(i int, key []byte) {
	n.checkKeyIndex(i)
	if len(key) != n.Layout.KeySize {
		insane("key of length %d does not match configured key size %d", len(key), n.Layout.KeySize)
	}
	off := n.keyOffset(i)
	copy(n.raw[off:off+n.Layout.KeySize], key)
}

// GetVal returns the i-th value slot of a leaf node.
func (n *Node) GetVal(i int) []byte {
	n.checkKeyIndex(i)
	off := n.valOffset(i)
	return n.raw[off : off+n.Layout.ValueSize]
}

// SetVal writes val into the i-th value slot of a leaf node.
func (n *Node) SetVal(i int, val []byte) {
	n.checkKeyIndex(i)
	if len(val) != n.Layout.ValueSize {
		insane("value of length %d does not match configured value size %d", len(val), n.Layout.ValueSize)
	}
	off := n.valOffset(i)
	copy(n.raw[off:off+n.Layout.ValueSize], val)
}

// GetKV returns the i-th (key, value) pair of a leaf node.
func (n *Node) GetKV(i int) (key, val []byte) {
	return n.GetKey(i), n.GetVal(i)
}

// SetKV writes the i-th (key, value) pair of a leaf node.
func (n *Node) SetKV(i int, key, val []byte) {
	n.SetKey(i, key)
	n.SetVal(i, val)
}

// GetPtr returns the i-th child pointer of an interior/root node. Valid
// indices run 0..NumKeys inclusive: there is always one more pointer
// than key.
func (n *Node) GetPtr(i int) uint64 {
	n.checkPtrIndex(i)
	off := n.ptrOffset(i)
	return binary.LittleEndian.Uint64(n.raw[off : off+PointerSize])
}

// SetPtr writes the i-th child pointer of an interior/root node.
func (n *Node) SetPtr(i int, p uint64) {
	n.checkPtrIndex(i)
	off := n.ptrOffset(i)
	binary.LittleEndian.PutUint64(n.raw[off:off+PointerSize], p)
}

// SetNumKeys updates the cached and on-disk key count.
func (n *Node) SetNumKeys(k int) {
	if k < 0 {
		insane("negative key count %d", k)
	}
	n.Header.NumKeys = uint16(k)
	n.Encode()
}

// NumKeys returns the node's current key count.
func (n *Node) NumKeys() int {
	return int(n.Header.NumKeys)
}

// IsLeaf and IsInterior classify a node by effective shape rather than
// raw tag, so callers don't need to know about KindRoot's dual layout.
func (n *Node) IsLeaf() bool     { return n.Header.EffectiveKind() == KindLeaf }
func (n *Node) IsInterior() bool { return n.Header.EffectiveKind() == KindInterior }
func (n *Node) IsRoot() bool     { return n.Header.Kind == KindRoot }

// FreeNext and SetFreeNext address a KindFree block's single payload
// field: the next entry in the superblock-rooted free list, or 0 at
// the tail.
func (n *Node) FreeNext() uint64 {
	if n.Header.Kind != KindFree {
		insane("FreeNext called on %s node", n.Header.Kind)
	}
	return binary.LittleEndian.Uint64(n.raw[HeaderSize : HeaderSize+PointerSize])
}

func (n *Node) SetFreeNext(next uint64) {
	if n.Header.Kind != KindFree {
		insane("SetFreeNext called on %s node", n.Header.Kind)
	}
	binary.LittleEndian.PutUint64(n.raw[HeaderSize:HeaderSize+PointerSize], next)
}

// SetKind re-tags a node, used when growRoot demotes the old root to
// its effective leaf/interior kind and when collapseRoot promotes the
// surviving child to root.
func (n *Node) SetKind(kind Kind) {
	n.Header.Kind = kind
	n.Encode()
}

// PromoteRootShape marks a KindRoot block as interior-shaped: growRoot
// applies it to every newly allocated root, and collapseRoot to an
// interior child that becomes the root. The caller is responsible for
// re-writing the block's key/pointer slots afterward, since the two
// shapes address different byte ranges.
func (n *Node) PromoteRootShape() {
	if n.Header.Kind != KindRoot {
		insane("PromoteRootShape called on %s node", n.Header.Kind)
	}
	n.Header.Shape = ShapeInterior
	n.Encode()
}

// SetRootNode and SetFreeList mutate the superblock-only header fields.
// Callers must only invoke these on a block currently tagged
// KindSuperblock; the codec does not enforce that by itself since the
// fields are physically present in every header.
func (n *Node) SetRootNode(block uint64) { n.Header.RootNode = block; n.Encode() }
func (n *Node) SetFreeList(block uint64) { n.Header.FreeList = block; n.Encode() }
