package types

import (
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/holiman/uint256"
)

// RecordEncodedSize is owner (20) + metadata (32) + storage (32) + expiry (8).
const RecordEncodedSize = common.AddressLength + 2*common.HashLength + 8

// Record is one registry entry. The map stores Record.Hash() under the key.
type Record struct {
	Owner    common.Address `json:"owner"`
	Metadata common.Hash    `json:"metadata"` // commitment to off-chain metadata
	Storage  common.Hash    `json:"storage"`  // pointer into external blob storage
	Expiry   uint64         `json:"expiry"`
}

// Hash is the map value committed for r. Metadata and Storage are arbitrary
// 32-byte values, so each enters as two limbs.
func (r *Record) Hash() common.Hash {
	mhi, mlo := r.Metadata.Limbs()
	shi, slo := r.Storage.Limbs()
	return common.HashFields(
		r.Owner.Element(),
		mhi, mlo,
		shi, slo,
		common.Uint64Element(r.Expiry),
	)
}

// Bytes is the canonical payload owners sign over.
func (r *Record) Bytes() []byte {
	out := make([]byte, 0, RecordEncodedSize)
	out = append(out, r.Owner[:]...)
	out = append(out, r.Metadata[:]...)
	out = append(out, r.Storage[:]...)
	return append(out, common.Uint64ToBytes(r.Expiry)...)
}

// ExpiredAt reports whether r has lapsed at timestamp ts.
func (r *Record) ExpiredAt(ts uint64) bool {
	return r.Expiry <= ts
}

// SameFields reports whether r and o agree on everything except expiry.
func (r *Record) SameFields(o *Record) bool {
	return r.Owner == o.Owner && r.Metadata == o.Metadata && r.Storage == o.Storage
}

func (r *Record) Validate() error {
	if r.Owner == (common.Address{}) {
		return fmt.Errorf("record has no owner: %w", rollerrors.ErrVMalformedOperation)
	}
	return nil
}

func (r *Record) Copy() *Record {
	c := *r
	return &c
}

func (r *Record) String() string {
	return fmt.Sprintf("Record{owner=%s expiry=%d hash=%s}", r.Owner.Hex(), r.Expiry, r.Hash().String_short())
}

// KeyFromName derives the map key of a name: the low depth bits of its
// BLAKE2b-256 hash.
func KeyFromName(name string, depth int) common.Hash {
	idx := new(uint256.Int).SetBytes32(common.ComputeHash([]byte(name)))
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(depth))
	mask.SubUint64(mask, 1)
	idx.And(idx, mask)
	return common.Hash(idx.Bytes32())
}
