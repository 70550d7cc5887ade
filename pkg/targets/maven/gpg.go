package maven

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/procutil"
)

var gpgLog = logger.New("target:maven:gpg")

// signingKey is a GPG_PRIVATE_KEY import scoped to one publish run: the key
// is imported into the ambient keyring and removed again on Close.
type signingKey struct {
	fingerprint string
}

// importSigningKey validates armored (via openpgp, so a malformed key fails
// fast with a Configuration error before ever touching the gpg keyring),
// then imports it via the gpg CLI. Returns nil, nil when armored is empty
// (GPG_PRIVATE_KEY unset): Maven artifacts are then deployed unsigned.
func importSigningKey(ctx context.Context, armored string) (*signingKey, error) {
	if strings.TrimSpace(armored) == "" {
		return nil, nil
	}

	fingerprint, err := inspectPrivateKey(armored)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "GPG_PRIVATE_KEY is not a valid OpenPGP private key", err)
	}

	dir, err := os.MkdirTemp("", "craft-gpg-*")
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "create GPG import scratch dir", err)
	}
	defer os.RemoveAll(dir)

	keyPath := filepath.Join(dir, "private.asc")
	if err := os.WriteFile(keyPath, []byte(armored), 0o600); err != nil {
		return nil, errs.Wrap(errs.Transient, "write private key to scratch file", err)
	}

	if _, err := procutil.Run(ctx, "", nil, "gpg", "--batch", "--yes", "--import", keyPath); err != nil {
		return nil, errs.Wrap(errs.Configuration, "gpg --import failed", err)
	}

	gpgLog.Printf("imported signing key %s", fingerprint)
	return &signingKey{fingerprint: fingerprint}, nil
}

// Close removes the imported key's secret and public key material from the
// ambient keyring. Best-effort: a removal failure is logged, not returned,
// since it should never block a release that already published.
func (k *signingKey) Close(ctx context.Context) {
	if k == nil {
		return
	}
	if _, err := procutil.Run(ctx, "", nil, "gpg", "--batch", "--yes", "--delete-secret-keys", k.fingerprint); err != nil {
		gpgLog.Printf("failed to remove imported secret key %s: %v", k.fingerprint, err)
	}
	if _, err := procutil.Run(ctx, "", nil, "gpg", "--batch", "--yes", "--delete-keys", k.fingerprint); err != nil {
		gpgLog.Printf("failed to remove imported public key %s: %v", k.fingerprint, err)
	}
}

// inspectPrivateKey parses armored OpenPGP key material and returns the
// primary entity's fingerprint, failing if it does not decode or contains
// no private key.
func inspectPrivateKey(armored string) (string, error) {
	block, err := armor.Decode(strings.NewReader(armored))
	if err != nil {
		return "", fmt.Errorf("decode armor: %w", err)
	}
	if block.Type != openpgp.PrivateKeyType {
		return "", fmt.Errorf("armored block is %q, want %q", block.Type, openpgp.PrivateKeyType)
	}

	entityList, err := openpgp.ReadKeyRing(block.Body)
	if err != nil {
		return "", fmt.Errorf("read key ring: %w", err)
	}
	if len(entityList) == 0 {
		return "", fmt.Errorf("no entities found in key")
	}
	entity := entityList[0]
	if entity.PrivateKey == nil {
		return "", fmt.Errorf("entity has no private key")
	}
	fingerprint := entity.PrivateKey.PublicKey.Fingerprint
	return fmt.Sprintf("%X", fingerprint[:]), nil
}
