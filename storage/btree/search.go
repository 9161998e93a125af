package btree

import (
	"bytes"

	"btreeindex/storage/page"
)

// leafSearch returns the index of key within a leaf node's sorted key
// array, or the index it would be inserted at if absent.
func leafSearch(n *page.Node, key []byte) (index int, found bool) {
	numKeys := n.NumKeys()
	low, high := 0, numKeys-1
	for low <= high {
		mid := low + (high-low)/2
		cmp := bytes.Compare(n.GetKey(mid), key)
		switch {
		case cmp < 0:
			low = mid + 1
		case cmp > 0:
			high = mid - 1
		default:
			return mid, true
		}
	}
	return low, false
}

// interiorSearch returns the child pointer index to descend for key:
// the smallest i such that key <= Keys[i], or NumKeys (the last
// pointer) if key is greater than every key in the node. A key equal
// to a routing key Ki descends into Pi, the child to its left, so that
// an exact match at the leaf below is reachable.
func interiorSearch(n *page.Node, key []byte) int {
	numKeys := n.NumKeys()
	low, high := 0, numKeys-1
	result := numKeys
	for low <= high {
		mid := low + (high-low)/2
		if bytes.Compare(n.GetKey(mid), key) >= 0 {
			result = mid
			high = mid - 1
		} else {
			low = mid + 1
		}
	}
	return result
}
