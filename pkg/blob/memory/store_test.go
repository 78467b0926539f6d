package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelhaven/reelhaven/pkg/blob"
)

func TestAppendSizeReadDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Size(ctx, "u1")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	n, err := s.Append(ctx, "u1", 0, strings.NewReader("hello "), 6)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	n, err = s.Append(ctx, "u1", 6, strings.NewReader("world"), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)

	_, err = s.Append(ctx, "u1", 6, strings.NewReader("world"), 5)
	require.ErrorIs(t, err, blob.ErrOffsetMismatch)
	var offErr *blob.OffsetError
	require.ErrorAs(t, err, &offErr)
	assert.EqualValues(t, 11, offErr.Expected)

	r, err := s.ReadRange(ctx, "u1", 0, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello world", string(data))

	require.NoError(t, s.Delete(ctx, "u1"))
	_, err = s.Size(ctx, "u1")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestReaderIsStable(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Append(ctx, "u1", 0, strings.NewReader("hello"), 5)
	require.NoError(t, err)

	r, err := s.ReadRange(ctx, "u1", 0, -1)
	require.NoError(t, err)
	defer r.Close()

	// A concurrent append must not corrupt an open reader.
	_, err = s.Append(ctx, "u1", 5, strings.NewReader(" world"), 6)
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
