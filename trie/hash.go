package trie

import (
	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/holiman/uint256"
)

// MaxDepth keeps every key below 2^253, inside the BN254 scalar field.
const MaxDepth = 253

// zeroHashes[h] is the root of an empty subtree of height h.
var zeroHashes [MaxDepth + 1]common.Hash

func init() {
	for h := 1; h <= MaxDepth; h++ {
		zeroHashes[h] = common.HashPair(zeroHashes[h-1], zeroHashes[h-1])
	}
}

// ZeroHash returns the root of an empty subtree of the given height.
func ZeroHash(height int) common.Hash {
	return zeroHashes[height]
}

// EmptyRoot is the root of a map of the given depth holding no records.
func EmptyRoot(depth int) common.Hash {
	return zeroHashes[depth]
}

func checkDepth(depth int) error {
	if depth < 1 || depth > MaxDepth {
		return rollerrors.ErrInvalidDepth
	}
	return nil
}

// keyIndex returns the leaf index addressed by key.
func keyIndex(depth int, key common.Hash) (*uint256.Int, error) {
	idx := new(uint256.Int).SetBytes32(key[:])
	if idx.BitLen() > depth {
		return nil, rollerrors.ErrKeyOutOfRange
	}
	return idx, nil
}

// KeyFits reports whether key addresses a leaf of a map with the given depth.
func KeyFits(depth int, key common.Hash) bool {
	_, err := keyIndex(depth, key)
	return err == nil
}

// nodeKey encodes (height, index) as 'n' || height || index (32 bytes big-endian).
func nodeKey(height int, index *uint256.Int) []byte {
	k := make([]byte, 2+32)
	k[0] = 'n'
	k[1] = byte(height)
	b := index.Bytes32()
	copy(k[2:], b[:])
	return k
}

// hashChildren combines a node with its sibling; isLeft tells whether node is the left child.
func hashChildren(node, sibling common.Hash, isLeft bool) common.Hash {
	if isLeft {
		return common.HashPair(node, sibling)
	}
	return common.HashPair(sibling, node)
}
