package common

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Element returns h reduced into the BN254 scalar field.
func (h Hash) Element() fr.Element {
	var e fr.Element
	e.SetBytes(h[:])
	return e
}

// IsCanonical reports whether h already is a reduced field element.
func (h Hash) IsCanonical() bool {
	var e fr.Element
	return e.SetBytesCanonical(h[:]) == nil
}

// Limbs splits h into two 128-bit field elements. Unlike Element it maps
// distinct hashes to distinct pairs.
func (h Hash) Limbs() (hi, lo fr.Element) {
	hi.SetBytes(h[:16])
	lo.SetBytes(h[16:])
	return hi, lo
}

func ElementToHash(e *fr.Element) Hash {
	return Hash(e.Bytes())
}

func Uint64Element(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func (a Address) Element() fr.Element {
	var e fr.Element
	e.SetBytes(a[:])
	return e
}

// HashFields is the circuit hash: MiMC over BN254 absorbing each element in order.
func HashFields(elems ...fr.Element) Hash {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	return BytesToHash(h.Sum(nil))
}

// HashPair hashes two tree children.
func HashPair(left, right Hash) Hash {
	return HashFields(left.Element(), right.Element())
}

// AddHash combines two accumulator values. Field addition is commutative and
// associative with the zero hash as identity.
func AddHash(a, b Hash) Hash {
	ea, eb := a.Element(), b.Element()
	ea.Add(&ea, &eb)
	return ElementToHash(&ea)
}

func SumHashes(hs ...Hash) Hash {
	var acc fr.Element
	for _, h := range hs {
		e := h.Element()
		acc.Add(&acc, &e)
	}
	return ElementToHash(&acc)
}
