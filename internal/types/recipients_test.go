package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRecipientSet_Canonical(t *testing.T) {
	a := NewRecipientSet("b@x.com", "a@x.com", "b@x.com")
	b := NewRecipientSet(" a@x.com", "b@x.com")
	assert.Equal(t, a, b)
	assert.Equal(t, "a@x.com,b@x.com", a.String())
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, a.Addresses())
	assert.Equal(t, 2, a.Len())
}

func TestNewRecipientSet_Empty(t *testing.T) {
	s := NewRecipientSet("", "  ")
	assert.True(t, s.IsEmpty())
	assert.Nil(t, s.Addresses())
	assert.Equal(t, 0, s.Len())
}

func TestRecipientSet_MapKey(t *testing.T) {
	m := map[RecipientSet][]string{}
	m[NewRecipientSet("x@y.com", "a@b.com")] = append(m[NewRecipientSet("x@y.com", "a@b.com")], "r1")
	m[NewRecipientSet("a@b.com", "x@y.com")] = append(m[NewRecipientSet("a@b.com", "x@y.com")], "r2")
	assert.Len(t, m, 1)
	assert.Equal(t, []string{"r1", "r2"}, m[NewRecipientSet("a@b.com", "x@y.com")])
}
