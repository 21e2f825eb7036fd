package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddHashIsCommutativeAndAssociative(t *testing.T) {
	a := HashFields(Uint64Element(1))
	b := HashFields(Uint64Element(2))
	c := HashFields(Uint64Element(3))

	assert.Equal(t, AddHash(a, b), AddHash(b, a))
	assert.Equal(t, AddHash(AddHash(a, b), c), AddHash(a, AddHash(b, c)))
	assert.Equal(t, a, AddHash(a, Hash{}))
	assert.Equal(t, AddHash(AddHash(a, b), c), SumHashes(a, b, c))
}

func TestHashFieldsIsCanonical(t *testing.T) {
	h := HashPair(Hash{}, Hash{})
	assert.False(t, h.IsZero())
	assert.True(t, h.IsCanonical())
	assert.Equal(t, h, HashPair(Hash{}, Hash{}))
	assert.NotEqual(t, HashPair(h, Hash{}), HashPair(Hash{}, h))

	var max Hash
	for i := range max {
		max[i] = 0xff
	}
	assert.False(t, max.IsCanonical())
	e := max.Element()
	assert.True(t, ElementToHash(&e).IsCanonical())
}
