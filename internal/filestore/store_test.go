package filestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kduvra/filerepo/internal/apperror"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), false)
	require.NoError(t, err)
	return s
}

func TestWriteThenReadReturnsSameBytes(t *testing.T) {
	// Testable property #1: read(x) after write(x, v, OVERWRITE) returns v.
	s := newTestStore(t)
	require.NoError(t, s.Write("a.txt", []byte("hello"), Overwrite))

	got, err := s.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestAppendAccumulates(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("a.txt", []byte("one-"), CreateNew))
	require.NoError(t, s.Write("a.txt", []byte("two"), Append))

	got, err := s.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "one-two", string(got))
}

func TestCreateNewFailsIfExists(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("a.txt", []byte("x"), CreateNew))
	err := s.Write("a.txt", []byte("y"), CreateNew)
	assert.Error(t, err)
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("missing.txt")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.NotFound))
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete("missing.txt")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.NotFound))
}

func TestDeleteRemovesFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("a.txt", []byte("x"), CreateNew))
	require.NoError(t, s.Delete("a.txt"))
	assert.False(t, s.Exists("a.txt"))
}

func TestListSortedLexicographically(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		require.NoError(t, s.Write(name, []byte("x"), CreateNew))
	}
	infos, err := s.List()
	require.NoError(t, err)
	names := make([]string, len(infos))
	for i, fi := range infos {
		names[i] = fi.Name
	}
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)
}

// Testable property #9: name validation rejects "..", "/", "\", empty,
// and length-256+ strings with InvalidArgument.
func TestNameValidationBoundaries(t *testing.T) {
	cases := []string{"", "..", "a/b", `a\b`, "../etc/passwd"}
	for _, name := range cases {
		err := ValidateName(name)
		require.Errorf(t, err, "expected error for name %q", name)
		assert.True(t, apperror.Is(err, apperror.InvalidArgument))
	}

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	err := ValidateName(string(long))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.InvalidArgument))

	assert.NoError(t, ValidateName("valid-name.txt"))
}

func TestChecksumIsPureFunctionOfBytes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("a.txt", []byte("payload"), CreateNew))

	sum1, err := s.Checksum("a.txt")
	require.NoError(t, err)
	sum2 := ChecksumBytes([]byte("payload"))
	assert.Equal(t, sum2, sum1)
}

func TestVerifyWritesAcceptsMatchingWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s, err := New(dir, true)
	require.NoError(t, err)
	require.NoError(t, s.Write("a.txt", []byte("hello"), Overwrite))
}

func TestMetadataReflectsSizeAndChecksum(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("a.txt", []byte("abcde"), CreateNew))

	md, err := s.Metadata("a.txt")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, int64(5), md.SizeBytes)
	assert.Equal(t, ChecksumBytes([]byte("abcde")), md.Checksum)
}

func TestMetadataMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	md, err := s.Metadata("missing.txt")
	require.NoError(t, err)
	assert.Nil(t, md)
}
