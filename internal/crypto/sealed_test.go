package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	doc, err := Seal("venue-secret", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(doc), "venue-secret")

	got, err := Open(doc, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "venue-secret", got)

	_, err = Open(doc, "wrong")
	assert.Error(t, err)
}

func TestSealRejectsEmptyInput(t *testing.T) {
	_, err := Seal("s", "")
	assert.Error(t, err)
	_, err = Seal("", "p")
	assert.Error(t, err)
	_, err = Open([]byte(`{"version":1}`), "")
	assert.Error(t, err)
}

func TestOpenRejectsUnknownVersion(t *testing.T) {
	_, err := Open([]byte(`{"version":7,"salt":"","nonce":"","ciphertext":""}`), "p")
	assert.ErrorContains(t, err, "unsupported version 7")
}

func TestResolveSecret(t *testing.T) {
	got, err := ResolveSecret(SecretSource{Secret: "plain", SealedPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	_, err = ResolveSecret(SecretSource{})
	assert.ErrorIs(t, err, ErrNoSecret)

	doc, err := Seal("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "seller.json")
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	got, err = ResolveSecret(SecretSource{SealedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)
}
