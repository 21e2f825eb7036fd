package types

import (
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

type DecisionKind uint8

const (
	// KindSetValidators replaces the committee: Payload[0] is the new
	// committee root, Payload[1] the new threshold.
	KindSetValidators DecisionKind = iota + 1
	// KindSignal records an opinion without any settlement effect.
	KindSignal
)

func (k DecisionKind) String() string {
	switch k {
	case KindSetValidators:
		return "set-validators"
	case KindSignal:
		return "signal"
	}
	return fmt.Sprintf("DecisionKind(%d)", uint8(k))
}

const (
	decisionTag = byte('D')
	// DecisionEncodedSize is registry + root + kind + target + payload + expiry.
	DecisionEncodedSize = 2*common.HashLength + 1 + common.HashLength + 2*common.HashLength + 8
	// DecisionStateEncodedSize is tag + decision + first + last + count + accumulator.
	DecisionStateEncodedSize = 1 + DecisionEncodedSize + 3*8 + common.HashLength
)

// Decision is a governance proposal voted on by the committee whose root is
// DecisionRoot.
type Decision struct {
	RegistryID   common.Hash    `json:"registry_id"`
	DecisionRoot common.Hash    `json:"decision_root"`
	Kind         DecisionKind   `json:"kind"`
	Target       common.Hash    `json:"target"`
	Payload      [2]common.Hash `json:"payload"`
	Expiry       uint64         `json:"expiry"`
}

// Hash is the message every validator signs.
func (d *Decision) Hash() common.Hash {
	elems := make([]fr.Element, 0, 12)
	for _, h := range []common.Hash{d.RegistryID, d.DecisionRoot, d.Target, d.Payload[0], d.Payload[1]} {
		hi, lo := h.Limbs()
		elems = append(elems, hi, lo)
	}
	elems = append(elems, common.Uint64Element(uint64(d.Kind)), common.Uint64Element(d.Expiry))
	return common.HashFields(elems...)
}

func (d *Decision) Bytes() []byte {
	out := make([]byte, 0, DecisionEncodedSize)
	out = append(out, d.RegistryID[:]...)
	out = append(out, d.DecisionRoot[:]...)
	out = append(out, byte(d.Kind))
	out = append(out, d.Target[:]...)
	out = append(out, d.Payload[0][:]...)
	out = append(out, d.Payload[1][:]...)
	return append(out, common.Uint64ToBytes(d.Expiry)...)
}

func decisionFromBytes(b []byte) Decision {
	var d Decision
	d.RegistryID = common.BytesToHash(b[0:32])
	d.DecisionRoot = common.BytesToHash(b[32:64])
	d.Kind = DecisionKind(b[64])
	d.Target = common.BytesToHash(b[65:97])
	d.Payload[0] = common.BytesToHash(b[97:129])
	d.Payload[1] = common.BytesToHash(b[129:161])
	d.Expiry = common.BytesToUint64(b[161:169])
	return d
}

// DecisionState is the public statement of a set of votes on one decision.
// First and Last are the lowest and highest committee positions that voted.
type DecisionState struct {
	Decision Decision    `json:"decision"`
	First    uint64      `json:"first"`
	Last     uint64      `json:"last"`
	Count    uint64      `json:"count"`
	HashAcc  common.Hash `json:"hash_acc"`
}

func (s *DecisionState) Bytes() []byte {
	out := make([]byte, 0, DecisionStateEncodedSize)
	out = append(out, decisionTag)
	out = append(out, s.Decision.Bytes()...)
	out = append(out, common.Uint64ToBytes(s.First)...)
	out = append(out, common.Uint64ToBytes(s.Last)...)
	out = append(out, common.Uint64ToBytes(s.Count)...)
	return append(out, s.HashAcc[:]...)
}

func DecisionStateFromBytes(b []byte) (*DecisionState, error) {
	if len(b) != DecisionStateEncodedSize || b[0] != decisionTag {
		return nil, fmt.Errorf("decision state of %d bytes: %w", len(b), rollerrors.ErrMalformedStatement)
	}
	body := b[1:]
	n := body[DecisionEncodedSize:]
	return &DecisionState{
		Decision: decisionFromBytes(body[:DecisionEncodedSize]),
		First:    common.BytesToUint64(n[0:8]),
		Last:     common.BytesToUint64(n[8:16]),
		Count:    common.BytesToUint64(n[16:24]),
		HashAcc:  common.BytesToHash(n[24:]),
	}, nil
}

func (s *DecisionState) Digest() common.Hash {
	return common.Blake2Hash(s.Bytes())
}

// Combine sums the votes of two states on the same decision. Every position
// of o must come after every position of s, so no voter is counted twice.
func (s *DecisionState) Combine(o *DecisionState) (*DecisionState, error) {
	if s.Decision != o.Decision {
		return nil, rollerrors.ErrDecisionMismatch
	}
	if s.Last >= o.First {
		return nil, fmt.Errorf("left ends at position %d, right starts at %d: %w", s.Last, o.First, rollerrors.ErrVoterOrder)
	}
	return &DecisionState{
		Decision: s.Decision,
		First:    s.First,
		Last:     o.Last,
		Count:    s.Count + o.Count,
		HashAcc:  common.AddHash(s.HashAcc, o.HashAcc),
	}, nil
}

func (s *DecisionState) String() string {
	return fmt.Sprintf("DecisionState{%s %s voters=[%d,%d] count=%d acc=%s}",
		s.Decision.Kind, s.Decision.Hash().String_short(), s.First, s.Last, s.Count, s.HashAcc.String_short())
}
