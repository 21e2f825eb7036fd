// Package voting aggregates validator votes on governance decisions with
// the same prove-then-merge pattern used for registry transitions.
package voting

import (
	"bytes"
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/ed25519"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/trie"
)

// IdentityHash commits to a validator key. The key is split into two
// 16-byte halves so each fits the scalar field.
func IdentityHash(pub ed25519.PublicKey) common.Hash {
	hi := common.BytesToHash(pub[:16])
	lo := common.BytesToHash(pub[16:])
	return common.HashFields(hi.Element(), lo.Element())
}

// CommitteeDepth is the smallest tree depth holding n members.
func CommitteeDepth(n int) int {
	d := 1
	for (1 << d) < n {
		d++
	}
	return d
}

func indexKey(i uint64) common.Hash {
	return common.BytesToHash(common.Uint64ToBytes(i))
}

// Committee is an ordered validator set committed as a map from member
// index to identity hash.
type Committee struct {
	members []ed25519.PublicKey
	m       *trie.CommitmentMap
}

func NewCommittee(members []ed25519.PublicKey) (*Committee, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("empty committee: %w", rollerrors.ErrInvalidThreshold)
	}
	leaves := make([]trie.Leaf, len(members))
	for i, pub := range members {
		if len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("member %d key of %d bytes", i, len(pub))
		}
		for j := 0; j < i; j++ {
			if bytes.Equal(members[j], pub) {
				return nil, fmt.Errorf("member %d repeats member %d: %w", i, j, rollerrors.ErrDuplicateVoter)
			}
		}
		leaves[i] = trie.Leaf{Key: indexKey(uint64(i)), Value: IdentityHash(pub)}
	}
	snap, err := trie.BulkBuild(CommitteeDepth(len(members)), leaves)
	if err != nil {
		return nil, err
	}
	m, err := trie.NewCommitmentMapFromSnapshot(snap, trie.NewMemoryNodeStore())
	if err != nil {
		return nil, err
	}
	c := &Committee{members: make([]ed25519.PublicKey, len(members)), m: m}
	copy(c.members, members)
	return c, nil
}

func (c *Committee) Root() common.Hash {
	return c.m.Root()
}

func (c *Committee) Size() int {
	return len(c.members)
}

func (c *Committee) Depth() int {
	return c.m.Depth()
}

func (c *Committee) Member(i int) ed25519.PublicKey {
	return c.members[i]
}

// Index returns the position of pub in the committee.
func (c *Committee) Index(pub ed25519.PublicKey) (int, bool) {
	for i, m := range c.members {
		if bytes.Equal(m, pub) {
			return i, true
		}
	}
	return 0, false
}

func (c *Committee) Witness(i int) (*trie.Witness, error) {
	if i < 0 || i >= len(c.members) {
		return nil, rollerrors.ErrNotCommitteeMember
	}
	return c.m.GetWitness(indexKey(uint64(i)))
}

// ExpectedHash is the accumulator of a vote in which every member took part.
func (c *Committee) ExpectedHash() common.Hash {
	hs := make([]common.Hash, len(c.members))
	for i, pub := range c.members {
		hs[i] = IdentityHash(pub)
	}
	return common.SumHashes(hs...)
}
