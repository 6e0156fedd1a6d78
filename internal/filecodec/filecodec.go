// Package filecodec implements the content-addressed file wrapping used by
// REQUEST_UPLOAD: a SHA-256 digest plus base64 encoding of a single file
// per message (spec.md §4.2).
package filecodec

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// chunkSize is the streaming read buffer size for Encode, matching the
// 8 KiB chunking spec.md §4.2 requires.
const chunkSize = 8 * 1024

// ErrHashMismatch is returned by DecodeAndVerify when the decoded bytes'
// SHA-256 digest does not equal the expected hex digest (spec.md §7).
var ErrHashMismatch = errors.New("filecodec: hash mismatch")

// Encode streams path in 8 KiB chunks into a SHA-256 hash, then returns the
// hex digest alongside a base64 (ASCII) encoding of the full file contents.
func Encode(path string) (sha256Hex string, base64Str string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("filecodec: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	var buf bytes.Buffer
	mw := io.MultiWriter(h, &buf)

	chunk := make([]byte, chunkSize)
	// Hide *os.File's WriteTo so io.CopyBuffer reads through chunk.
	if _, err := io.CopyBuffer(mw, struct{ io.Reader }{f}, chunk); err != nil {
		return "", "", fmt.Errorf("filecodec: read %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeAndVerify base64-decodes b64 and checks that its SHA-256 digest
// equals expectedHex (case-insensitive hex). Returns ErrHashMismatch if not.
func DecodeAndVerify(b64 string, expectedHex string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("filecodec: invalid base64: %w", err)
	}

	sum := sha256.Sum256(raw)
	got := hex.EncodeToString(sum[:])

	want, err := normalizeHex(expectedHex)
	if err != nil {
		return nil, fmt.Errorf("filecodec: invalid expected hash: %w", err)
	}

	if got != want {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, want, got)
	}
	return raw, nil
}

func normalizeHex(h string) (string, error) {
	decoded, err := hex.DecodeString(h)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(decoded), nil
}
