package commissioning

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lokanos/hub/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, bus.Bus) {
	t.Helper()
	b := bus.NewInMemoryBus(nil)
	return NewService(b, nil, NewCredentialIssuer([]byte("test-secret"), time.Hour)), b
}

func TestHandshake_Succeeds(t *testing.T) {
	svc, b := newService(t)
	ctx := context.Background()
	ch, unsubscribe, err := b.Subscribe(ctx, "radio.commissioning.handshake")
	require.NoError(t, err)
	defer unsubscribe()

	resp, err := svc.Handshake(ctx, HandshakeRequest{
		QRPayload: "LOKAN:abc123",
		DeviceID:  "device-001",
		Nonce:     "nonce-123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Session)
	assert.NotEmpty(t, resp.SharedKey)

	decoded, err := base64.StdEncoding.DecodeString(resp.SharedKey)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected handshake event")
	}
}

func TestHandshake_RejectsMissingLokanPrefix(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Handshake(context.Background(), HandshakeRequest{
		QRPayload: "abc123", DeviceID: "device-001", Nonce: "nonce-123",
	})
	assert.Error(t, err)
}

func TestHandshake_RejectsShortDeviceID(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Handshake(context.Background(), HandshakeRequest{
		QRPayload: "LOKAN:x", DeviceID: "ab", Nonce: "nonce-123",
	})
	assert.Error(t, err)
}

func TestHandshake_RejectsShortNonce(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Handshake(context.Background(), HandshakeRequest{
		QRPayload: "LOKAN:x", DeviceID: "device-001", Nonce: "ab",
	})
	assert.Error(t, err)
}

func TestSubmitCSR_IssuesCertificateBoundToDeviceID(t *testing.T) {
	svc, _ := newService(t)
	csr := base64.StdEncoding.EncodeToString([]byte("der-bytes-here"))

	resp, err := svc.SubmitCSR(context.Background(), CSRRequest{DeviceID: "device-001", CSR: csr})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Certificate)
	assert.Equal(t, "lokan-dev-root-ca", resp.CAIdentifier)

	decoded, err := base64.StdEncoding.DecodeString(resp.Certificate)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "lokan-dev-cert:device-001:")
}

func TestSubmitCSR_RejectsInvalidBase64(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.SubmitCSR(context.Background(), CSRRequest{DeviceID: "device-001", CSR: "not base64!!"})
	assert.Error(t, err)
}

func TestSubmitCSR_RejectsEmptyPayload(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.SubmitCSR(context.Background(), CSRRequest{DeviceID: "device-001", CSR: ""})
	assert.Error(t, err)
}

func TestVerifyCredentials_AcceptsValidSignature(t *testing.T) {
	svc, _ := newService(t)
	sig := base64.StdEncoding.EncodeToString(make([]byte, 16))

	resp, err := svc.VerifyCredentials(context.Background(), VerifyRequest{DeviceID: "device-001", Signature: sig})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.NotEmpty(t, resp.Credential)
}

func TestCredentialIssuer_IssuesParsableDeviceBoundToken(t *testing.T) {
	secret := []byte("test-secret")
	issuer := NewCredentialIssuer(secret, time.Hour)
	token, err := issuer.Issue("device-001")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims := &DeviceClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, "device-001", claims.DeviceID)
	assert.Equal(t, "lokan-hub", claims.Issuer)
}

func TestCredentialIssuer_RejectsTokenSignedWithDifferentSecret(t *testing.T) {
	issuer := NewCredentialIssuer([]byte("test-secret"), time.Hour)
	token, err := issuer.Issue("device-001")
	require.NoError(t, err)

	_, err = jwt.ParseWithClaims(token, &DeviceClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte("wrong-secret"), nil
	})
	assert.Error(t, err)
}

func TestVerifyCredentials_RejectsShortSignature(t *testing.T) {
	svc, _ := newService(t)
	sig := base64.StdEncoding.EncodeToString(make([]byte, 8))

	_, err := svc.VerifyCredentials(context.Background(), VerifyRequest{DeviceID: "device-001", Signature: sig})
	assert.Error(t, err)
}

func TestVerifyCredentials_RejectsInvalidSession(t *testing.T) {
	svc, _ := newService(t)
	sig := base64.StdEncoding.EncodeToString(make([]byte, 16))

	_, err := svc.VerifyCredentials(context.Background(), VerifyRequest{
		DeviceID: "device-001", Signature: sig, Session: "x",
	})
	assert.Error(t, err)
}
