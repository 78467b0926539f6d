package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartKeyOrdering(t *testing.T) {
	s := &Store{bucket: "b", keyPrefix: "reelhaven/"}

	k0 := s.partKey("u1", 0)
	k1 := s.partKey("u1", 8<<20)
	k2 := s.partKey("u1", 100<<20)

	// Zero padding keeps lexicographic order equal to byte order.
	assert.Less(t, k0, k1)
	assert.Less(t, k1, k2)

	off, err := partOffset(k1)
	require.NoError(t, err)
	assert.EqualValues(t, 8<<20, off)
}

func TestPartOffsetMalformed(t *testing.T) {
	_, err := partOffset("no-separator")
	assert.Error(t, err)

	_, err = partOffset("uploads/u1/parts/not-a-number")
	assert.Error(t, err)
}
