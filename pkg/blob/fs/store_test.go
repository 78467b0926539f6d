package fs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelhaven/reelhaven/pkg/blob"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendString(t *testing.T, s *Store, id string, offset int64, data string) int64 {
	t.Helper()
	n, err := s.Append(context.Background(), id, offset, strings.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return n
}

func TestAppendAndSize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Size(ctx, "u1")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	n := appendString(t, s, "u1", 0, "hello ")
	assert.EqualValues(t, 6, n)

	n = appendString(t, s, "u1", 6, "world")
	assert.EqualValues(t, 11, n)

	size, err := s.Size(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)
}

func TestAppendOffsetMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendString(t, s, "u1", 0, "hello")

	// Replay of an already written chunk reports the authoritative size.
	_, err := s.Append(ctx, "u1", 0, strings.NewReader("hello"), 5)
	require.ErrorIs(t, err, blob.ErrOffsetMismatch)

	var offErr *blob.OffsetError
	require.ErrorAs(t, err, &offErr)
	assert.EqualValues(t, 5, offErr.Expected)
	assert.EqualValues(t, 0, offErr.Given)
	assert.False(t, blob.IsTransient(err))

	// A gap ahead of the blob is rejected the same way.
	_, err = s.Append(ctx, "u1", 100, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, blob.ErrOffsetMismatch)
}

func TestAppendShortBodyRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendString(t, s, "u1", 0, "hello")

	// The body ends before the declared length; nothing may stick.
	_, err := s.Append(ctx, "u1", 5, strings.NewReader("ab"), 10)
	require.Error(t, err)
	assert.True(t, blob.IsTransient(err))

	size, err := s.Size(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	// The same chunk can be retried at the same offset.
	appendString(t, s, "u1", 5, " world....")
}

func TestReadRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendString(t, s, "u1", 0, "hello world")

	r, err := s.ReadRange(ctx, "u1", 6, 5)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	// Negative length reads to the end.
	r2, err := s.ReadRange(ctx, "u1", 0, -1)
	require.NoError(t, err)
	defer r2.Close()
	data, err = io.ReadAll(r2)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = s.ReadRange(ctx, "missing", 0, -1)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendString(t, s, "u1", 0, "hello")
	require.NoError(t, s.Delete(ctx, "u1"))

	_, err := s.Size(ctx, "u1")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	// Deleting a missing blob is fine.
	require.NoError(t, s.Delete(ctx, "u1"))
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendString(t, s, "u1", 0, "a")
	appendString(t, s, "u2", 0, "b")

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Size(context.Background(), "u1")
	assert.True(t, errors.Is(err, blob.ErrStoreClosed))
}
