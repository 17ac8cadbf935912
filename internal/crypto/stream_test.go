package crypto

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encryptTestFile(t *testing.T, plaintext, key []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "media.enc")
	_, err := NewService().EncryptFileToPath(bytes.NewReader(plaintext), path, key)
	require.NoError(t, err)
	return path
}

func openRangeReader(t *testing.T, path string, key []byte) (*RangeReader, *os.File) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	info, err := f.Stat()
	require.NoError(t, err)

	rr, err := NewRangeReader(f, info.Size(), key)
	require.NoError(t, err)
	return rr, f
}

func TestRangeReader_FullRead(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 300_000)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	rr, _ := openRangeReader(t, encryptTestFile(t, plaintext, key), key)

	assert.Equal(t, int64(len(plaintext)), rr.Size())
	require.NoError(t, rr.Authenticate())

	got, err := io.ReadAll(io.NewSectionReader(rr, 0, rr.Size()))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestRangeReader_SeekTargets(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 200_000)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	rr, _ := openRangeReader(t, encryptTestFile(t, plaintext, key), key)

	tests := []struct {
		name   string
		off    int64
		length int
	}{
		{name: "aligned interior", off: 4096, length: 1024},
		{name: "unaligned start", off: 1000, length: 1000},
		{name: "single byte", off: 77_777, length: 1},
		{name: "crossing block boundary", off: 15, length: 3},
		{name: "tail", off: int64(len(plaintext) - 100), length: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]byte, tt.length)
			n, err := rr.ReadAt(got, tt.off)
			if err != nil {
				require.ErrorIs(t, err, io.EOF)
			}
			require.Equal(t, tt.length, n)
			assert.Equal(t, plaintext[tt.off:tt.off+int64(tt.length)], got)
		})
	}
}

func TestRangeReader_ReadPastEnd(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("short clip")

	rr, _ := openRangeReader(t, encryptTestFile(t, plaintext, key), key)

	buf := make([]byte, 4)
	_, err := rr.ReadAt(buf, int64(len(plaintext)))
	assert.ErrorIs(t, err, io.EOF)

	// a read overlapping the end returns the available bytes
	n, err := rr.ReadAt(buf, int64(len(plaintext)-2))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)
	assert.Equal(t, plaintext[len(plaintext)-2:], buf[:2])
}

// eofReaderAt reports io.EOF alongside a full read ending exactly at the end
// of the source, which io.ReaderAt permits. os.File and bytes.Reader return a
// nil error there, so the permissive behavior needs its own source.
type eofReaderAt struct {
	data []byte
}

func (r *eofReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if off+int64(n) == int64(len(r.data)) {
		return n, io.EOF
	}
	return n, nil
}

func TestRangeReader_SourceReportsEOFOnFullRead(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 70_000)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	envelope, err := os.ReadFile(encryptTestFile(t, plaintext, key))
	require.NoError(t, err)

	rr, err := NewRangeReader(&eofReaderAt{data: envelope}, int64(len(envelope)), key)
	require.NoError(t, err)

	// the tag pass reads the ciphertext through its last byte
	require.NoError(t, rr.Authenticate())

	got := make([]byte, 100)
	n, err := rr.ReadAt(got, rr.Size()-int64(len(got)))
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, len(got), n)
	assert.Equal(t, plaintext[len(plaintext)-len(got):], got)
}

func TestRangeReader_TamperedCiphertext(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 100_000)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	path := encryptTestFile(t, plaintext, key)

	// flip one ciphertext bit on disk
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	b := make([]byte, 1)
	_, err = f.ReadAt(b, Overhead+50_000)
	require.NoError(t, err)
	b[0] ^= 0x80
	_, err = f.WriteAt(b, Overhead+50_000)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rr, _ := openRangeReader(t, path, key)

	assert.ErrorIs(t, rr.Authenticate(), ErrAuthenticationFailed)

	// reads fail closed as well
	buf := make([]byte, 16)
	_, err = rr.ReadAt(buf, 0)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestRangeReader_TamperedTag(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 4096)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	path := encryptTestFile(t, plaintext, key)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, IVSize+3)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rr, _ := openRangeReader(t, path, key)
	assert.ErrorIs(t, rr.Authenticate(), ErrAuthenticationFailed)
}

func TestRangeReader_WrongKey(t *testing.T) {
	key := testKey(t)
	path := encryptTestFile(t, []byte("lesson video bytes"), key)

	rr, _ := openRangeReader(t, path, testKey(t))
	assert.ErrorIs(t, rr.Authenticate(), ErrAuthenticationFailed)
}

func TestRangeReader_TruncatedEnvelope(t *testing.T) {
	key := testKey(t)

	_, err := NewRangeReader(bytes.NewReader(make([]byte, Overhead-1)), Overhead-1, key)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestEncryptFile_EmptyPlaintext(t *testing.T) {
	key := testKey(t)
	path := encryptTestFile(t, nil, key)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(Overhead), info.Size())

	rr, _ := openRangeReader(t, path, key)
	assert.Equal(t, int64(0), rr.Size())
	require.NoError(t, rr.Authenticate())
}

func TestEncryptFile_FreshIVPerFile(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("identical plaintext")

	env1, err := os.ReadFile(encryptTestFile(t, plaintext, key))
	require.NoError(t, err)
	env2, err := os.ReadFile(encryptTestFile(t, plaintext, key))
	require.NoError(t, err)

	assert.NotEqual(t, env1[:IVSize], env2[:IVSize])
	assert.NotEqual(t, env1[Overhead:], env2[Overhead:])
}
