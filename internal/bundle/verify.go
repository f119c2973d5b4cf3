// Package bundle verifies signed OTA bundles: manifest, per-component
// checksums, and an Ed25519 signature over the checksum file.
package bundle

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/lokanos/hub/internal/updater"
)

const (
	signaturePEMLabel = "ED25519 SIGNATURE"
	publicKeyPEMLabel = "PUBLIC KEY"
)

// ManifestComponent is one file entry in a bundle manifest.
type ManifestComponent struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Manifest describes the contents and target of a staged bundle.
type Manifest struct {
	Version    string              `json:"version"`
	BuildSHA   string              `json:"build_sha"`
	CreatedAt  time.Time           `json:"created_at"`
	TargetSlot updater.Slot        `json:"target_slot"`
	Components []ManifestComponent `json:"components"`
}

// StageBundleMetadata is what a successful verification yields.
type StageBundleMetadata struct {
	Manifest Manifest
}

// TargetSlot returns the manifest's declared deployment target.
func (m StageBundleMetadata) TargetSlot() updater.Slot {
	return m.Manifest.TargetSlot
}

// Verifier checks a bundle on disk and returns its metadata.
type Verifier interface {
	Verify(bundlePath string) (StageBundleMetadata, error)
}

// FilesystemVerifier verifies bundles against a fixed Ed25519 public key.
type FilesystemVerifier struct {
	publicKey ed25519.PublicKey
}

// NewFilesystemVerifierFromPEM loads an SPKI-encoded Ed25519 public key from
// a PEM file labeled "PUBLIC KEY".
func NewFilesystemVerifierFromPEM(path string) (*FilesystemVerifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Internal("read public key", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, apperrors.Internal("parse public key", fmt.Errorf("no PEM block found"))
	}
	if block.Type != publicKeyPEMLabel {
		return nil, apperrors.Internal("parse public key", fmt.Errorf("PEM label must be %q", publicKeyPEMLabel))
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, apperrors.Internal("parse public key", err)
	}
	edKey, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, apperrors.Internal("parse public key", fmt.Errorf("key is not Ed25519"))
	}
	return &FilesystemVerifier{publicKey: edKey}, nil
}

// Verify checks bundlePath's manifest, component checksums, and signature,
// in that order: checksums are validated before the signature so tampering
// is localized to a single checksum mismatch rather than a generic
// signature failure.
func (v *FilesystemVerifier) Verify(bundlePath string) (StageBundleMetadata, error) {
	info, err := os.Stat(bundlePath)
	if err != nil {
		if os.IsNotExist(err) {
			return StageBundleMetadata{}, apperrors.BundleInvalid("bundle path does not exist").WithDetails("path", bundlePath)
		}
		return StageBundleMetadata{}, apperrors.Internal("stat bundle", err)
	}
	if !info.IsDir() {
		return StageBundleMetadata{}, apperrors.BundleInvalid("bundle path is not a directory").WithDetails("path", bundlePath)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(bundlePath, "manifest.json"))
	if err != nil {
		return StageBundleMetadata{}, apperrors.BundleInvalid("read manifest").WithDetails("cause", err.Error())
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return StageBundleMetadata{}, apperrors.BundleInvalid("parse manifest").WithDetails("cause", err.Error())
	}
	if len(manifest.Components) == 0 {
		return StageBundleMetadata{}, apperrors.BundleInvalid("manifest must declare at least one component")
	}

	checksumBytes, err := os.ReadFile(filepath.Join(bundlePath, "sig", "sha256sum"))
	if err != nil {
		return StageBundleMetadata{}, apperrors.BundleInvalid("read checksum file").WithDetails("cause", err.Error())
	}
	checksums, err := parseSHA256Sum(string(checksumBytes))
	if err != nil {
		return StageBundleMetadata{}, err
	}

	for _, component := range manifest.Components {
		if err := validateRelativePath(component.Path); err != nil {
			return StageBundleMetadata{}, err
		}
		componentPath := filepath.Join(bundlePath, component.Path)
		componentInfo, err := os.Stat(componentPath)
		if err != nil || !componentInfo.Mode().IsRegular() {
			return StageBundleMetadata{}, apperrors.BundleInvalid("component file missing").WithDetails("path", component.Path)
		}

		expected := strings.ToLower(component.SHA256)
		entry, ok := checksums[component.Path]
		if !ok {
			return StageBundleMetadata{}, apperrors.BundleInvalid("checksum entry missing for component").WithDetails("path", component.Path)
		}
		delete(checksums, component.Path)

		if strings.ToLower(entry) != expected {
			return StageBundleMetadata{}, apperrors.BundleInvalid("checksum mismatch").
				WithDetails("path", component.Path).WithDetails("expected", expected).WithDetails("actual", entry)
		}

		actual, err := sha256File(componentPath)
		if err != nil {
			return StageBundleMetadata{}, apperrors.Internal("hash component", err)
		}
		if actual != expected {
			return StageBundleMetadata{}, apperrors.BundleInvalid("checksum mismatch").
				WithDetails("path", component.Path).WithDetails("expected", expected).WithDetails("actual", actual)
		}
	}

	if len(checksums) > 0 {
		for path := range checksums {
			return StageBundleMetadata{}, apperrors.BundleInvalid("checksum file contains unexpected entry").WithDetails("path", path)
		}
	}

	signatureBytes, err := os.ReadFile(filepath.Join(bundlePath, "sig", "signature.pem"))
	if err != nil {
		return StageBundleMetadata{}, apperrors.BundleInvalid("read signature").WithDetails("cause", err.Error())
	}
	sigBlock, _ := pem.Decode(signatureBytes)
	if sigBlock == nil {
		return StageBundleMetadata{}, apperrors.BundleInvalid("signature file is not valid PEM")
	}
	if sigBlock.Type != signaturePEMLabel {
		return StageBundleMetadata{}, apperrors.BundleInvalid("signature PEM label must be " + signaturePEMLabel)
	}
	if len(sigBlock.Bytes) != ed25519.SignatureSize {
		return StageBundleMetadata{}, apperrors.BundleInvalid("signature length must be 64 bytes for Ed25519")
	}

	if !ed25519.Verify(v.publicKey, checksumBytes, sigBlock.Bytes) {
		return StageBundleMetadata{}, apperrors.BundleInvalid("bundle signature verification failed")
	}

	return StageBundleMetadata{Manifest: manifest}, nil
}

func parseSHA256Sum(contents string) (map[string]string, error) {
	result := make(map[string]string)
	for i, line := range strings.Split(contents, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		parts := strings.Fields(trimmed)
		if len(parts) != 2 {
			return nil, apperrors.BundleInvalid("invalid checksum file format").
				WithDetails("line", i+1).WithDetails("details", "expected '<sha256> <path>'")
		}
		digest := strings.ToLower(parts[0])
		if len(digest) != 64 || !isHex(digest) {
			return nil, apperrors.BundleInvalid("invalid checksum file format").
				WithDetails("line", i+1).WithDetails("details", "invalid sha256 digest")
		}
		path := parts[1]
		if _, exists := result[path]; exists {
			return nil, apperrors.BundleInvalid("invalid checksum file format").
				WithDetails("line", i+1).WithDetails("details", fmt.Sprintf("duplicate entry for %s", path))
		}
		result[path] = digest
	}
	return result, nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func validateRelativePath(path string) error {
	if filepath.IsAbs(path) {
		return apperrors.BundleInvalid("component path is invalid").WithDetails("path", path)
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return apperrors.BundleInvalid("component path is invalid").WithDetails("path", path)
	}
	for _, segment := range strings.Split(clean, "/") {
		if segment == ".." {
			return apperrors.BundleInvalid("component path is invalid").WithDetails("path", path)
		}
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
