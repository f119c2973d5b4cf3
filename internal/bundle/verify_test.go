package bundle

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/lokanos/hub/internal/updater"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBundle struct {
	root      string
	publicKey string
}

func buildValidBundle(t *testing.T, tamperComponent bool) testBundle {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sig"), 0o755))

	componentContent := []byte("firmware-bytes-v1")
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.bin"), componentContent, 0o644))

	sum := sha256.Sum256(componentContent)
	digest := hex.EncodeToString(sum[:])

	manifest := fmt.Sprintf(`{
		"version": "1.0.0",
		"build_sha": "deadbeef",
		"created_at": "2026-01-01T00:00:00Z",
		"target_slot": "B",
		"components": [{"name":"app","path":"app.bin","sha256":%q}]
	}`, digest)
	require.NoError(t, os.WriteFile(filepath.Join(root, "manifest.json"), []byte(manifest), 0o644))

	if tamperComponent {
		require.NoError(t, os.WriteFile(filepath.Join(root, "app.bin"), []byte("tampered-bytes"), 0o644))
	}

	checksumFile := fmt.Sprintf("%s  app.bin\n", digest)
	checksumBytes := []byte(checksumFile)
	require.NoError(t, os.WriteFile(filepath.Join(root, "sig", "sha256sum"), checksumBytes, 0o644))

	sig := ed25519.Sign(priv, checksumBytes)
	sigPEM := pem.EncodeToMemory(&pem.Block{Type: signaturePEMLabel, Bytes: sig})
	require.NoError(t, os.WriteFile(filepath.Join(root, "sig", "signature.pem"), sigPEM, 0o644))

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMLabel, Bytes: pubDER})
	pubPath := filepath.Join(root, "public.pem")
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o644))

	return testBundle{root: root, publicKey: pubPath}
}

func TestVerify_ValidBundle(t *testing.T) {
	tb := buildValidBundle(t, false)
	verifier, err := NewFilesystemVerifierFromPEM(tb.publicKey)
	require.NoError(t, err)

	meta, err := verifier.Verify(tb.root)
	require.NoError(t, err)
	assert.Equal(t, updater.SlotB, meta.TargetSlot())
	assert.Equal(t, "1.0.0", meta.Manifest.Version)
}

func TestVerify_Deterministic(t *testing.T) {
	tb := buildValidBundle(t, false)
	verifier, err := NewFilesystemVerifierFromPEM(tb.publicKey)
	require.NoError(t, err)

	first, err := verifier.Verify(tb.root)
	require.NoError(t, err)
	second, err := verifier.Verify(tb.root)
	require.NoError(t, err)
	assert.Equal(t, first.Manifest, second.Manifest)
}

func TestVerify_ChecksumMismatch(t *testing.T) {
	tb := buildValidBundle(t, true)
	verifier, err := NewFilesystemVerifierFromPEM(tb.publicKey)
	require.NoError(t, err)

	_, err = verifier.Verify(tb.root)
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeBundleInvalid, appErr.Code)
	assert.Contains(t, appErr.Message, "checksum mismatch")
}

func TestVerify_MissingBundlePath(t *testing.T) {
	tb := buildValidBundle(t, false)
	verifier, err := NewFilesystemVerifierFromPEM(tb.publicKey)
	require.NoError(t, err)

	_, err = verifier.Verify(filepath.Join(tb.root, "does-not-exist"))
	assert.Error(t, err)
}

func TestVerify_EmptyComponents(t *testing.T) {
	tb := buildValidBundle(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(tb.root, "manifest.json"), []byte(`{
		"version":"1.0.0","build_sha":"x","created_at":"2026-01-01T00:00:00Z","target_slot":"B","components":[]
	}`), 0o644))

	verifier, err := NewFilesystemVerifierFromPEM(tb.publicKey)
	require.NoError(t, err)

	_, err = verifier.Verify(tb.root)
	assert.Error(t, err)
}

func TestVerify_RejectsAbsoluteComponentPath(t *testing.T) {
	tb := buildValidBundle(t, false)
	manifest := fmt.Sprintf(`{
		"version":"1.0.0","build_sha":"x","created_at":"2026-01-01T00:00:00Z","target_slot":"B",
		"components":[{"name":"app","path":"/etc/passwd","sha256":"%s"}]
	}`, "0000000000000000000000000000000000000000000000000000000000000000"[:64])
	require.NoError(t, os.WriteFile(filepath.Join(tb.root, "manifest.json"), []byte(manifest), 0o644))

	verifier, err := NewFilesystemVerifierFromPEM(tb.publicKey)
	require.NoError(t, err)
	_, err = verifier.Verify(tb.root)
	assert.Error(t, err)
}

func TestVerify_UnexpectedChecksumEntry(t *testing.T) {
	tb := buildValidBundle(t, false)
	existing, err := os.ReadFile(filepath.Join(tb.root, "sig", "sha256sum"))
	require.NoError(t, err)
	extra := string(existing) + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa  extra.bin\n"
	require.NoError(t, os.WriteFile(filepath.Join(tb.root, "sig", "sha256sum"), []byte(extra), 0o644))

	// The unexpected-entry check runs before signature verification, so an
	// unmodified (now stale) signature still exercises the intended path.
	verifier, err := NewFilesystemVerifierFromPEM(tb.publicKey)
	require.NoError(t, err)
	_, err = verifier.Verify(tb.root)
	require.Error(t, err)
}

func TestParseSHA256Sum_DuplicatePathRejected(t *testing.T) {
	digest := "a10000000000000000000000000000000000000000000000000000000000000b"[:64]
	contents := fmt.Sprintf("%s  app.bin\n%s  app.bin\n", digest, digest)
	_, err := parseSHA256Sum(contents)
	assert.Error(t, err)
}

func TestValidateRelativePath_RejectsTraversal(t *testing.T) {
	assert.Error(t, validateRelativePath("../escape"))
	assert.Error(t, validateRelativePath("a/../../escape"))
	assert.NoError(t, validateRelativePath("a/b/c.bin"))
}
