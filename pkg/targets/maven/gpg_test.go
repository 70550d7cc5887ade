package maven

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
)

func generateArmoredPrivateKey(t *testing.T) string {
	t.Helper()
	entity, err := openpgp.NewEntity("craft-test", "", "craft-test@example.com", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())
	return buf.String()
}

func TestInspectPrivateKey_ReturnsFingerprintForValidKey(t *testing.T) {
	armored := generateArmoredPrivateKey(t)
	fingerprint, err := inspectPrivateKey(armored)
	require.NoError(t, err)
	require.NotEmpty(t, fingerprint)
}

func TestInspectPrivateKey_RejectsGarbage(t *testing.T) {
	_, err := inspectPrivateKey("not an armored key")
	require.Error(t, err)
}

func TestInspectPrivateKey_RejectsPublicKeyBlock(t *testing.T) {
	entity, err := openpgp.NewEntity("craft-test", "", "craft-test@example.com", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	_, err = inspectPrivateKey(buf.String())
	require.Error(t, err)
}

func TestImportSigningKey_EmptyIsNoop(t *testing.T) {
	key, err := importSigningKey(nil, "")
	require.NoError(t, err)
	require.Nil(t, key)
}
