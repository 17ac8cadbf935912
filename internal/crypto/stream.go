package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// chunkSize is the unit for streamed encryption and authentication passes
const chunkSize = 64 * 1024

// fieldEl is an element of GF(2^128) in the bit order GCM uses
type fieldEl struct {
	hi, lo uint64
}

// gmul multiplies two field elements (NIST SP 800-38D, block multiplication)
func gmul(x, y fieldEl) fieldEl {
	var z fieldEl
	v := x
	for i := 0; i < 128; i++ {
		var bit uint64
		if i < 64 {
			bit = (y.hi >> (63 - i)) & 1
		} else {
			bit = (y.lo >> (127 - i)) & 1
		}
		if bit == 1 {
			z.hi ^= v.hi
			z.lo ^= v.lo
		}
		lsb := v.lo & 1
		v.lo = v.lo>>1 | v.hi<<63
		v.hi >>= 1
		if lsb == 1 {
			v.hi ^= 0xe100000000000000
		}
	}
	return z
}

// ghash accumulates the GHASH function over byte input of arbitrary length
type ghash struct {
	h     fieldEl
	y     fieldEl
	buf   [16]byte
	n     int
	total uint64
}

func (g *ghash) writeBlock(b []byte) {
	g.y.hi ^= binary.BigEndian.Uint64(b[0:8])
	g.y.lo ^= binary.BigEndian.Uint64(b[8:16])
	g.y = gmul(g.y, g.h)
}

// Write feeds data into the hash; always succeeds
func (g *ghash) Write(p []byte) (int, error) {
	g.total += uint64(len(p))
	n := len(p)
	for len(p) > 0 {
		if g.n > 0 || len(p) < 16 {
			c := copy(g.buf[g.n:], p)
			g.n += c
			p = p[c:]
			if g.n == 16 {
				g.writeBlock(g.buf[:])
				g.n = 0
			}
			continue
		}
		g.writeBlock(p[:16])
		p = p[16:]
	}
	return n, nil
}

// sum zero-pads any buffered partial block, appends the GCM length block
// (zero AAD) and returns the final hash. The accumulator is consumed.
func (g *ghash) sum() [16]byte {
	if g.n > 0 {
		for i := g.n; i < 16; i++ {
			g.buf[i] = 0
		}
		g.writeBlock(g.buf[:])
		g.n = 0
	}
	var lenBlock [16]byte
	binary.BigEndian.PutUint64(lenBlock[8:], g.total*8)
	g.writeBlock(lenBlock[:])

	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], g.y.hi)
	binary.BigEndian.PutUint64(out[8:16], g.y.lo)
	return out
}

// gcmStream holds the per-file GCM parameters needed for positioned
// keystream generation and tag computation with a 16-byte IV.
type gcmStream struct {
	block cipher.Block
	h     fieldEl
	j0    [16]byte
}

func newGCMStream(key, iv []byte) (*gcmStream, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(iv) != IVSize {
		return nil, ErrMalformedEnvelope
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}

	// H = E(K, 0^128)
	var zero, hb [16]byte
	block.Encrypt(hb[:], zero[:])
	h := fieldEl{
		hi: binary.BigEndian.Uint64(hb[0:8]),
		lo: binary.BigEndian.Uint64(hb[8:16]),
	}

	// For a non-96-bit IV, J0 = GHASH(H, IV ‖ pad ‖ len(IV))
	g := ghash{h: h}
	g.Write(iv)
	j0 := g.sum()

	return &gcmStream{block: block, h: h, j0: j0}, nil
}

// keystream fills dst with the CTR keystream starting at the given
// 16-byte block index of the message body
func (gs *gcmStream) keystream(dst []byte, startBlock uint64) {
	var ctr [16]byte
	copy(ctr[:], gs.j0[:])
	low := binary.BigEndian.Uint32(ctr[12:16])
	// the first message block uses inc32(J0); only the low 32 bits count
	low += 1 + uint32(startBlock)

	var ks [16]byte
	for len(dst) > 0 {
		binary.BigEndian.PutUint32(ctr[12:16], low)
		gs.block.Encrypt(ks[:], ctr[:])
		n := copy(dst, ks[:])
		dst = dst[n:]
		low++
	}
}

// tag finalizes the authentication tag for the accumulated ciphertext hash
func (gs *gcmStream) tag(g *ghash) [16]byte {
	s := g.sum()
	var ek [16]byte
	gs.block.Encrypt(ek[:], gs.j0[:])
	for i := range s {
		s[i] ^= ek[i]
	}
	return s
}

// EncryptFile encrypts src into dst as one envelope without holding the file
// in memory. The tag slot is zero-filled until the whole body has been
// written and is only patched in afterwards, so a torn write always fails
// authentication instead of exposing a readable partial file.
// The returned size is the plaintext length.
func (s *Service) EncryptFile(src io.Reader, dst *os.File, key []byte) (int64, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return 0, fmt.Errorf("failed to generate iv: %w", err)
	}
	gs, err := newGCMStream(key, iv)
	if err != nil {
		return 0, err
	}

	if _, err := dst.Write(iv); err != nil {
		return 0, fmt.Errorf("failed to write iv: %w", err)
	}
	var zeroTag [TagSize]byte
	if _, err := dst.Write(zeroTag[:]); err != nil {
		return 0, fmt.Errorf("failed to write tag slot: %w", err)
	}

	g := ghash{h: gs.h}
	buf := make([]byte, chunkSize)
	ks := make([]byte, chunkSize)
	var written int64

	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			gs.keystream(ks[:n], uint64(written)/16)
			for i := 0; i < n; i++ {
				buf[i] ^= ks[i]
			}
			g.Write(buf[:n])
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("failed to write ciphertext: %w", err)
			}
			written += int64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("failed to read plaintext: %w", rerr)
		}
	}

	tag := gs.tag(&g)
	if _, err := dst.WriteAt(tag[:], IVSize); err != nil {
		return written, fmt.Errorf("failed to write tag: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return written, fmt.Errorf("failed to sync envelope: %w", err)
	}
	return written, nil
}

// EncryptFileToPath encrypts src into a new envelope file at path.
// The file is removed again if encryption fails partway.
func (s *Service) EncryptFileToPath(src io.Reader, path string, key []byte) (int64, error) {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create envelope file: %w", err)
	}

	n, encErr := s.EncryptFile(src, dst, key)
	closeErr := dst.Close()
	if encErr != nil {
		os.Remove(path)
		return 0, encErr
	}
	if closeErr != nil {
		os.Remove(path)
		return 0, fmt.Errorf("failed to close envelope file: %w", closeErr)
	}
	return n, nil
}

// RangeReader reads decrypted bytes from an envelope at arbitrary plaintext
// offsets without decrypting the preceding data. The counter-mode body of
// the envelope allows positioned keystream generation; the tag is verified
// once, in a streamed pass, before any plaintext is released.
type RangeReader struct {
	r    io.ReaderAt
	gs   *gcmStream
	size int64
	tag  [TagSize]byte

	authOnce sync.Once
	authErr  error
}

// NewRangeReader parses the envelope header from r. envelopeSize is the
// total envelope length in bytes (for a file, its stat size).
func NewRangeReader(r io.ReaderAt, envelopeSize int64, key []byte) (*RangeReader, error) {
	if envelopeSize < Overhead {
		return nil, ErrMalformedEnvelope
	}

	header := make([]byte, Overhead)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("failed to read envelope header: %w", err)
	}

	gs, err := newGCMStream(key, header[:IVSize])
	if err != nil {
		return nil, err
	}

	rr := &RangeReader{
		r:    r,
		gs:   gs,
		size: envelopeSize - Overhead,
	}
	copy(rr.tag[:], header[IVSize:Overhead])
	return rr, nil
}

// Size returns the plaintext length
func (rr *RangeReader) Size() int64 {
	return rr.size
}

// Authenticate verifies the envelope tag by streaming the ciphertext in
// chunks. The result is computed once and cached; every read path calls it,
// so no unauthenticated byte is ever returned.
func (rr *RangeReader) Authenticate() error {
	rr.authOnce.Do(func() {
		g := ghash{h: rr.gs.h}
		buf := make([]byte, chunkSize)
		var off int64
		for off < rr.size {
			n := int64(len(buf))
			if rr.size-off < n {
				n = rr.size - off
			}
			if err := rr.readCiphertext(buf[:n], off); err != nil {
				rr.authErr = err
				return
			}
			g.Write(buf[:n])
			off += n
		}
		want := rr.gs.tag(&g)
		if subtle.ConstantTimeCompare(want[:], rr.tag[:]) != 1 {
			rr.authErr = ErrAuthenticationFailed
		}
	})
	return rr.authErr
}

// SkipAuthentication marks the envelope as already verified. Callers that
// authenticated the same envelope on an earlier reader, and know the file
// has not changed since, can avoid re-hashing the ciphertext.
func (rr *RangeReader) SkipAuthentication() {
	rr.authOnce.Do(func() {})
}

// readCiphertext fills p from the envelope body at the given ciphertext
// offset. io.ReaderAt permits (len(p), io.EOF) when the read ends exactly at
// the source's end, so a full read succeeds regardless of the reported error.
func (rr *RangeReader) readCiphertext(p []byte, off int64) error {
	n, err := rr.r.ReadAt(p, Overhead+off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("failed to read ciphertext: %w", err)
}

// ReadAt implements io.ReaderAt over the plaintext
func (rr *RangeReader) ReadAt(p []byte, off int64) (int, error) {
	if err := rr.Authenticate(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fmt.Errorf("crypto: negative read offset")
	}
	if off >= rr.size {
		return 0, io.EOF
	}

	n := len(p)
	if int64(n) > rr.size-off {
		n = int(rr.size - off)
	}

	ct := make([]byte, n)
	if err := rr.readCiphertext(ct, off); err != nil {
		return 0, err
	}

	// keystream generation is 16-byte-block aligned; skip into the first block
	startBlock := uint64(off) / 16
	skip := int(off % 16)
	ks := make([]byte, skip+n)
	rr.gs.keystream(ks, startBlock)

	for i := 0; i < n; i++ {
		p[i] = ct[i] ^ ks[skip+i]
	}

	if int64(n) == rr.size-off {
		return n, io.EOF
	}
	return n, nil
}
