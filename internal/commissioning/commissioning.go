// Package commissioning implements the gateway's BLE-assisted device
// onboarding flow: QR/nonce-bound handshake, CSR submission, and signed
// credential verification, each publishing a canonical event on the bus.
package commissioning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/lokanos/hub/internal/bus"
	"github.com/lokanos/hub/internal/obsmetrics"
)

// DefaultCredentialTTL bounds the lifetime of a device credential issued
// after a successful verification.
const DefaultCredentialTTL = 24 * time.Hour

// DeviceClaims are the JWT claims bound to a commissioned device's
// post-verification credential.
type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// CredentialIssuer signs short-lived device credentials with a shared
// secret. Unlike service-to-service tokens exchanged between hub processes,
// a device credential never leaves the hub's local network, so HMAC signing
// is sufficient in place of an asymmetric key pair.
type CredentialIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewCredentialIssuer builds a CredentialIssuer. ttl defaults to
// DefaultCredentialTTL when zero.
func NewCredentialIssuer(secret []byte, ttl time.Duration) *CredentialIssuer {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &CredentialIssuer{secret: secret, ttl: ttl}
}

// Issue signs a device credential bound to deviceID.
func (i *CredentialIssuer) Issue(deviceID string) (string, error) {
	now := time.Now()
	claims := &DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			Issuer:    "lokan-hub",
			Subject:   deviceID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// HandshakeRequest is the body of the BLE handshake endpoint.
type HandshakeRequest struct {
	QRPayload string                 `json:"qrPayload"`
	DeviceID  string                 `json:"deviceId"`
	Nonce     string                 `json:"nonce"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HandshakeResponse is returned after a successful handshake.
type HandshakeResponse struct {
	Session   string `json:"session"`
	SharedKey string `json:"sharedKey"`
}

// CSRRequest is the body of the CSR submission endpoint.
type CSRRequest struct {
	DeviceID string `json:"deviceId"`
	CSR      string `json:"csr"`
	Nonce    string `json:"nonce,omitempty"`
}

// CSRResponse carries the issued development certificate.
type CSRResponse struct {
	Certificate  string `json:"certificate"`
	CAIdentifier string `json:"caIdentifier,omitempty"`
}

// VerifyRequest is the body of the credential verification endpoint.
type VerifyRequest struct {
	DeviceID  string `json:"deviceId"`
	Signature string `json:"signature"`
	Session   string `json:"session,omitempty"`
}

// VerifyResponse reports whether verification succeeded.
type VerifyResponse struct {
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// Service implements the three-step commissioning flow.
type Service struct {
	bus     bus.Bus
	metrics *obsmetrics.Metrics
	issuer  *CredentialIssuer
}

// NewService builds a commissioning Service publishing onto b. metrics and
// issuer may be nil; with a nil issuer, VerifyCredentials does not mint a
// credential.
func NewService(b bus.Bus, metrics *obsmetrics.Metrics, issuer *CredentialIssuer) *Service {
	return &Service{bus: b, metrics: metrics, issuer: issuer}
}

// Handshake validates the QR/device/nonce triple, mints a session and
// ephemeral shared key, and publishes a handshake event.
func (s *Service) Handshake(ctx context.Context, req HandshakeRequest) (HandshakeResponse, error) {
	if err := validateQR(req.QRPayload); err != nil {
		return HandshakeResponse{}, err
	}
	if err := validateDeviceID(req.DeviceID); err != nil {
		return HandshakeResponse{}, err
	}
	if err := validateNonce(req.Nonce); err != nil {
		return HandshakeResponse{}, err
	}

	session := uuid.NewString()
	sharedKey, err := deriveSharedSecret(req.DeviceID, session)
	if err != nil {
		return HandshakeResponse{}, apperrors.Internal("derive shared secret", err)
	}

	event := map[string]interface{}{
		"type":     "commissioning.handshake",
		"deviceId": req.DeviceID,
		"nonce":    req.Nonce,
		"session":  session,
	}
	if req.Metadata != nil {
		event["metadata"] = req.Metadata
	}
	if err := s.publish(ctx, "radio.commissioning.handshake", event); err != nil {
		return HandshakeResponse{}, err
	}

	return HandshakeResponse{Session: session, SharedKey: sharedKey}, nil
}

// SubmitCSR validates a base64 CSR payload and issues a stand-in development
// certificate binding the device id to the first bytes of the request.
func (s *Service) SubmitCSR(ctx context.Context, req CSRRequest) (CSRResponse, error) {
	if err := validateDeviceID(req.DeviceID); err != nil {
		return CSRResponse{}, err
	}
	csrBytes, err := base64.StdEncoding.DecodeString(req.CSR)
	if err != nil {
		return CSRResponse{}, apperrors.Validation("csr must be valid base64 data")
	}
	if len(csrBytes) == 0 {
		return CSRResponse{}, apperrors.Validation("csr payload cannot be empty")
	}
	if req.Nonce != "" {
		if err := validateNonce(req.Nonce); err != nil {
			return CSRResponse{}, err
		}
	}

	prefixLen := len(csrBytes)
	if prefixLen > 8 {
		prefixLen = 8
	}
	var certBytes []byte
	certBytes = append(certBytes, []byte("lokan-dev-cert:")...)
	certBytes = append(certBytes, []byte(req.DeviceID)...)
	certBytes = append(certBytes, ':')
	certBytes = append(certBytes, csrBytes[:prefixLen]...)

	response := CSRResponse{
		Certificate:  base64.StdEncoding.EncodeToString(certBytes),
		CAIdentifier: "lokan-dev-root-ca",
	}

	event := map[string]interface{}{
		"type":      "commissioning.csr",
		"deviceId":  req.DeviceID,
		"csrLength": len(csrBytes),
	}
	if req.Nonce != "" {
		event["nonce"] = req.Nonce
	}
	if err := s.publish(ctx, "radio.commissioning.csr", event); err != nil {
		return CSRResponse{}, err
	}

	return response, nil
}

// VerifyCredentials checks a device-supplied signature and publishes a
// verification event. The reference signature check only validates length;
// the device's actual certificate chain is verified during mTLS handshake.
func (s *Service) VerifyCredentials(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	if err := validateDeviceID(req.DeviceID); err != nil {
		return VerifyResponse{}, err
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return VerifyResponse{}, apperrors.Validation("signature must be valid base64 data")
	}
	if len(signature) < 16 {
		return VerifyResponse{}, apperrors.Validation("signature must be at least 16 bytes")
	}
	if req.Session != "" {
		if err := validateNonce(req.Session); err != nil {
			return VerifyResponse{}, err
		}
	}

	event := map[string]interface{}{
		"type":            "commissioning.verify",
		"deviceId":        req.DeviceID,
		"signatureLength": len(signature),
	}
	if req.Session != "" {
		event["session"] = req.Session
	}
	if err := s.publish(ctx, "radio.commissioning.verify", event); err != nil {
		return VerifyResponse{}, err
	}

	response := VerifyResponse{Accepted: true}
	if s.issuer != nil {
		credential, err := s.issuer.Issue(req.DeviceID)
		if err != nil {
			return VerifyResponse{}, apperrors.Internal("issue device credential", err)
		}
		response.Credential = credential
	}
	return response, nil
}

func (s *Service) publish(ctx context.Context, subject string, event map[string]interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Internal("encode commissioning event", err)
	}
	if s.metrics != nil {
		s.metrics.RecordPublish(subject)
	}
	if err := s.bus.Publish(ctx, subject, payload); err != nil {
		return apperrors.Upstream("publish commissioning event", err)
	}
	return nil
}

func validateQR(qr string) error {
	if qr == "" {
		return apperrors.Validation("qrPayload cannot be empty")
	}
	if !strings.HasPrefix(qr, "LOKAN:") {
		return apperrors.Validation("qrPayload must begin with the LOKAN: prefix")
	}
	return nil
}

func validateDeviceID(deviceID string) error {
	if len(deviceID) < 4 || len(deviceID) > 64 {
		return apperrors.Validation("deviceId must be between 4 and 64 characters")
	}
	if !isAlphanumericDashUnderscore(deviceID) {
		return apperrors.Validation("deviceId must be alphanumeric and may include '-' or '_'")
	}
	return nil
}

func validateNonce(nonce string) error {
	if len(nonce) < 6 || len(nonce) > 128 {
		return apperrors.Validation("nonce must be between 6 and 128 characters")
	}
	if !isAlphanumericDashUnderscore(nonce) {
		return apperrors.Validation("nonce must be alphanumeric and may include '-' or '_'")
	}
	return nil
}

func isAlphanumericDashUnderscore(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// deriveSharedSecret generates a random 32-byte seed and stretches it through
// HKDF-SHA256, binding the derived key to the device id and session via the
// info parameter so two handshakes never produce the same key material even
// from a colliding seed.
func deriveSharedSecret(deviceID, session string) (string, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}

	info := []byte("lokan-commissioning:" + deviceID + ":" + session)
	reader := hkdf.New(sha256.New, seed, nil, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
