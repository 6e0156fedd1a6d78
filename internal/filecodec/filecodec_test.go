package filecodec

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeThenDecodeAndVerifyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("a reasonably sized capture artifact payload")
	require.NoError(t, os.WriteFile(path, content, 0o640))

	digest, b64, err := Encode(path)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(content), b64)

	decoded, err := DecodeAndVerify(b64, digest)
	require.NoError(t, err)
	assert.Equal(t, content, decoded)
}

func TestDecodeAndVerifyDetectsHashMismatch(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte("hello"))
	_, err := DecodeAndVerify(b64, "0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestDecodeAndVerifyHexIsCaseInsensitive(t *testing.T) {
	content := []byte("case insensitivity check")
	digest, b64, err := Encode(writeTemp(t, content))
	require.NoError(t, err)

	upper := make([]byte, len(digest))
	for i := range digest {
		c := digest[i]
		if c >= 'a' && c <= 'f' {
			c -= 32
		}
		upper[i] = c
	}

	_, err = DecodeAndVerify(b64, string(upper))
	assert.NoError(t, err)
}

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, content, 0o640))
	return path
}
