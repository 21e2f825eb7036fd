package types

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type OpKind uint8

const (
	KindAdd OpKind = iota + 1
	KindUpdate
	KindExtend
	KindRemove
)

func (k OpKind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindUpdate:
		return "update"
	case KindExtend:
		return "extend"
	case KindRemove:
		return "remove"
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

func ParseOpKind(s string) (OpKind, error) {
	switch s {
	case "add":
		return KindAdd, nil
	case "update":
		return KindUpdate, nil
	case "extend":
		return KindExtend, nil
	case "remove":
		return KindRemove, nil
	}
	return 0, fmt.Errorf("unknown operation kind %q: %w", s, rollerrors.ErrVMalformedOperation)
}

// Operation is one requested mutation of the registry. The set of
// implementations is closed: AddOp, UpdateOp, ExtendOp and RemoveOp.
type Operation interface {
	Kind() OpKind
	OpKey() common.Hash
	// NewValue is the value the operation asks to store, zero for remove.
	NewValue() common.Hash
	sealed()
}

type AddOp struct {
	Key    common.Hash
	Record Record
}

// UpdateOp replaces a record. Signature is the old owner's signature over
// UpdateDigest. OldRecord may be nil when the aggregator knows the preimage.
type UpdateOp struct {
	Key       common.Hash
	Record    Record
	OldRecord *Record
	Signature []byte
}

type ExtendOp struct {
	Key       common.Hash
	Record    Record
	OldRecord *Record
}

// RemoveOp clears a key. It needs the owner's signature over RemoveDigest
// unless the record has expired.
type RemoveOp struct {
	Key       common.Hash
	OldRecord *Record
	Signature []byte
}

func (*AddOp) Kind() OpKind { return KindAdd }
func (*UpdateOp) Kind() OpKind { return KindUpdate }
func (*ExtendOp) Kind() OpKind { return KindExtend }
func (*RemoveOp) Kind() OpKind { return KindRemove }

func (o *AddOp) OpKey() common.Hash { return o.Key }
func (o *UpdateOp) OpKey() common.Hash { return o.Key }
func (o *ExtendOp) OpKey() common.Hash { return o.Key }
func (o *RemoveOp) OpKey() common.Hash { return o.Key }

func (o *AddOp) NewValue() common.Hash { return o.Record.Hash() }
func (o *UpdateOp) NewValue() common.Hash { return o.Record.Hash() }
func (o *ExtendOp) NewValue() common.Hash { return o.Record.Hash() }
func (o *RemoveOp) NewValue() common.Hash { return common.Hash{} }

func (*AddOp) sealed()    {}
func (*UpdateOp) sealed() {}
func (*ExtendOp) sealed() {}
func (*RemoveOp) sealed() {}

// OpHash is the accumulator contribution of op, whether accepted or rejected.
func OpHash(op Operation) common.Hash {
	return common.HashFields(
		common.Uint64Element(uint64(op.Kind())),
		op.OpKey().Element(),
		op.NewValue().Element(),
	)
}

// OldRecordOf returns the old record reference carried by op, if any.
func OldRecordOf(op Operation) *Record {
	switch o := op.(type) {
	case *UpdateOp:
		return o.OldRecord
	case *ExtendOp:
		return o.OldRecord
	case *RemoveOp:
		return o.OldRecord
	}
	return nil
}

// WithOldRecord returns a copy of op whose old record reference is old. Add
// operations are returned unchanged.
func WithOldRecord(op Operation, old *Record) Operation {
	switch o := op.(type) {
	case *UpdateOp:
		c := *o
		c.OldRecord = old
		return &c
	case *ExtendOp:
		c := *o
		c.OldRecord = old
		return &c
	case *RemoveOp:
		c := *o
		c.OldRecord = old
		return &c
	}
	return op
}

// UpdateDigest is what the current owner signs to authorise replacing the
// record stored under key (with value oldValue) by newRecord.
func UpdateDigest(key, oldValue common.Hash, newRecord *Record) common.Hash {
	payload := make([]byte, 0, 14+2*common.HashLength+RecordEncodedSize)
	payload = append(payload, "nsroll/update:"...)
	payload = append(payload, key[:]...)
	payload = append(payload, oldValue[:]...)
	payload = append(payload, newRecord.Bytes()...)
	return common.PersonalDigest(payload)
}

// RemoveDigest is what the current owner signs to authorise clearing key.
func RemoveDigest(key, oldValue common.Hash) common.Hash {
	payload := make([]byte, 0, 14+2*common.HashLength)
	payload = append(payload, "nsroll/remove:"...)
	payload = append(payload, key[:]...)
	payload = append(payload, oldValue[:]...)
	return common.PersonalDigest(payload)
}

// SignUpdate builds a signed UpdateOp replacing old by next.
func SignUpdate(priv *ecdsa.PrivateKey, key common.Hash, old, next *Record) (*UpdateOp, error) {
	sig, err := common.SignDigest(priv, UpdateDigest(key, old.Hash(), next))
	if err != nil {
		return nil, err
	}
	return &UpdateOp{Key: key, Record: *next, OldRecord: old.Copy(), Signature: sig}, nil
}

// SignRemove builds a signed RemoveOp for the record old stored under key.
func SignRemove(priv *ecdsa.PrivateKey, key common.Hash, old *Record) (*RemoveOp, error) {
	sig, err := common.SignDigest(priv, RemoveDigest(key, old.Hash()))
	if err != nil {
		return nil, err
	}
	return &RemoveOp{Key: key, OldRecord: old.Copy(), Signature: sig}, nil
}

// operationJSON is the wire form of an operation. Exactly one of Key and Name
// addresses the target.
type operationJSON struct {
	Kind      string        `json:"kind"`
	Key       *common.Hash  `json:"key,omitempty"`
	Name      string        `json:"name,omitempty"`
	Record    *Record       `json:"record,omitempty"`
	OldRecord *Record       `json:"old_record,omitempty"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
}

// MarshalOperation encodes op in its wire form.
func MarshalOperation(op Operation) ([]byte, error) {
	key := op.OpKey()
	w := operationJSON{Kind: op.Kind().String(), Key: &key}
	switch o := op.(type) {
	case *AddOp:
		w.Record = &o.Record
	case *UpdateOp:
		w.Record, w.OldRecord, w.Signature = &o.Record, o.OldRecord, o.Signature
	case *ExtendOp:
		w.Record, w.OldRecord = &o.Record, o.OldRecord
	case *RemoveOp:
		w.OldRecord, w.Signature = o.OldRecord, o.Signature
	default:
		return nil, fmt.Errorf("operation %T: %w", op, rollerrors.ErrVMalformedOperation)
	}
	return json.Marshal(w)
}

// DecodeOperation parses one wire operation. A name is mapped to its key at
// the given map depth.
func DecodeOperation(data []byte, depth int) (Operation, error) {
	var w operationJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode operation: %v: %w", err, rollerrors.ErrVMalformedOperation)
	}
	return w.operation(depth)
}

// DecodeOperations parses a JSON array of wire operations, preserving order.
func DecodeOperations(data []byte, depth int) ([]Operation, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode operations: %v: %w", err, rollerrors.ErrVMalformedOperation)
	}
	ops := make([]Operation, 0, len(raw))
	for i, r := range raw {
		op, err := DecodeOperation(r, depth)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (w *operationJSON) operation(depth int) (Operation, error) {
	kind, err := ParseOpKind(w.Kind)
	if err != nil {
		return nil, err
	}
	var key common.Hash
	switch {
	case w.Key != nil && w.Name != "":
		return nil, fmt.Errorf("both key and name given: %w", rollerrors.ErrVMalformedOperation)
	case w.Key != nil:
		key = *w.Key
	case w.Name != "":
		key = KeyFromName(w.Name, depth)
	default:
		return nil, fmt.Errorf("no key or name: %w", rollerrors.ErrVMalformedOperation)
	}
	if kind != KindRemove && w.Record == nil {
		return nil, fmt.Errorf("%s without record: %w", kind, rollerrors.ErrVMalformedOperation)
	}

	switch kind {
	case KindAdd:
		return &AddOp{Key: key, Record: *w.Record}, nil
	case KindUpdate:
		return &UpdateOp{Key: key, Record: *w.Record, OldRecord: w.OldRecord, Signature: w.Signature}, nil
	case KindExtend:
		return &ExtendOp{Key: key, Record: *w.Record, OldRecord: w.OldRecord}, nil
	default:
		return &RemoveOp{Key: key, OldRecord: w.OldRecord, Signature: w.Signature}, nil
	}
}
