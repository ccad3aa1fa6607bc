// Package security implements the security manager (C7): authentication
// modes, trust assignment, session lifecycle, authorization, rate
// limiting, symmetric encryption/key management, and an append-only
// audit log.
package security

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"crypto/tls"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/a2afabric/broker/a2aerr"
	"github.com/a2afabric/broker/model"
)

// AuthMode names one of the ingress authentication schemes from
// spec.md §4.7.
type AuthMode string

const (
	AuthNone            AuthMode = "none"
	AuthAPIKey          AuthMode = "api_key"
	AuthJWT             AuthMode = "jwt"
	AuthOAuth2          AuthMode = "oauth2"
	AuthMTLS            AuthMode = "mtls"
	AuthDigitalSignature AuthMode = "digital_signature"
)

// Credential carries whatever the caller presented for a given AuthMode;
// only the fields used by Mode are populated.
type Credential struct {
	Mode AuthMode

	APIKey string

	JWT string

	OAuth2Token *oauth2.Token

	PeerCert *tls.Certificate

	// Signature and SignedBytes back DigitalSignature verification.
	Signature   []byte
	SignedBytes []byte
}

// Verifier authenticates one Credential and returns the AgentId and
// TrustLevel to assign the resulting Session.
type Verifier interface {
	Verify(ctx context.Context, cred Credential) (model.AgentId, model.TrustLevel, error)
}

// CredentialSource maps static credential material to a trust level,
// the "static credential-source -> TrustLevel mapping" from spec.md
// §4.7, overridable per agent via SetOverride.
type CredentialSource struct {
	apiKeys    map[string]sourceEntry // apiKey -> (agentID, trust)
	sigKeys    map[model.AgentId]ed25519.PublicKey
	mu         struct{ overrides map[model.AgentId]model.TrustLevel }
}

type sourceEntry struct {
	agentID model.AgentId
	trust   model.TrustLevel
}

// NewCredentialSource builds an empty CredentialSource.
func NewCredentialSource() *CredentialSource {
	return &CredentialSource{
		apiKeys: make(map[string]sourceEntry),
		sigKeys: make(map[model.AgentId]ed25519.PublicKey),
	}
}

// RegisterSignatureKey associates an agent id with the Ed25519 public
// key used to verify its digital_signature credentials.
func (c *CredentialSource) RegisterSignatureKey(agentID model.AgentId, pub ed25519.PublicKey) {
	c.sigKeys[agentID] = pub
}

// verifySignature checks sig over signed using the public key registered
// for agentID; it is the default verify function wired into
// digitalSignatureVerifier by NewManager.
func (c *CredentialSource) verifySignature(agentID model.AgentId, signed, sig []byte) bool {
	pub, ok := c.sigKeys[agentID]
	if !ok {
		return false
	}
	return ed25519.Verify(pub, signed, sig)
}

// RegisterAPIKey associates an API key with an agent id and default
// trust level.
func (c *CredentialSource) RegisterAPIKey(key string, agentID model.AgentId, trust model.TrustLevel) {
	c.apiKeys[key] = sourceEntry{agentID: agentID, trust: trust}
}

// TrustFor resolves the effective trust level for an agent, honoring any
// admin override over the credential source's default.
func (c *CredentialSource) TrustFor(agentID model.AgentId, def model.TrustLevel) model.TrustLevel {
	if c.mu.overrides != nil {
		if t, ok := c.mu.overrides[agentID]; ok {
			return t
		}
	}
	return def
}

// SetOverride assigns an explicit trust level to an agent regardless of
// its credential source default.
func (c *CredentialSource) SetOverride(agentID model.AgentId, trust model.TrustLevel) {
	if c.mu.overrides == nil {
		c.mu.overrides = make(map[model.AgentId]model.TrustLevel)
	}
	c.mu.overrides[agentID] = trust
}

// apiKeyVerifier authenticates API-key credentials via constant-time
// comparison against the configured CredentialSource.
type apiKeyVerifier struct{ source *CredentialSource }

func (v apiKeyVerifier) Verify(_ context.Context, cred Credential) (model.AgentId, model.TrustLevel, error) {
	for key, entry := range v.source.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(cred.APIKey)) == 1 {
			return entry.agentID, v.source.TrustFor(entry.agentID, entry.trust), nil
		}
	}
	return "", 0, a2aerr.New(a2aerr.Unauthorized, "unrecognized api key")
}

// jwtVerifier authenticates bearer JWTs with golang-jwt/jwt/v5, mapping
// verified claims to a trust level through the credential source.
type jwtVerifier struct {
	source  *CredentialSource
	keyFunc jwt.Keyfunc
}

type jwtClaims struct {
	jwt.RegisteredClaims
	AgentID string `json:"agentId"`
}

func (v jwtVerifier) Verify(_ context.Context, cred Credential) (model.AgentId, model.TrustLevel, error) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(cred.JWT, claims, v.keyFunc)
	if err != nil || !token.Valid {
		return "", 0, a2aerr.Wrap(a2aerr.Unauthorized, err, "jwt verification failed")
	}
	agentID := model.AgentId(claims.AgentID)
	if agentID == "" {
		return "", 0, a2aerr.New(a2aerr.Unauthorized, "jwt missing agentId claim")
	}
	return agentID, v.source.TrustFor(agentID, model.TrustVerified), nil
}

// mtlsVerifier authenticates via the standard library's crypto/tls peer
// certificate chain; no third-party library improves on stdlib TLS peer
// verification (DESIGN.md justifies this as the one intentional stdlib
// exception in this component).
type mtlsVerifier struct{ source *CredentialSource }

func (v mtlsVerifier) Verify(_ context.Context, cred Credential) (model.AgentId, model.TrustLevel, error) {
	if cred.PeerCert == nil || len(cred.PeerCert.Certificate) == 0 {
		return "", 0, a2aerr.New(a2aerr.Unauthorized, "mtls: no peer certificate presented")
	}
	agentID := model.AgentId(cred.PeerCert.Leaf.Subject.CommonName)
	if agentID == "" {
		return "", 0, a2aerr.New(a2aerr.Unauthorized, "mtls: certificate has no subject CN")
	}
	return agentID, v.source.TrustFor(agentID, model.TrustTrusted), nil
}

// oauth2Verifier parses a bearer token using golang.org/x/oauth2's token
// type and delegates actual verification to a pluggable introspection
// function (running a full OAuth2 authorization server is out of
// scope, per SPEC_FULL.md §4.7).
type oauth2Verifier struct {
	source      *CredentialSource
	introspect  func(ctx context.Context, token *oauth2.Token) (model.AgentId, error)
}

func (v oauth2Verifier) Verify(ctx context.Context, cred Credential) (model.AgentId, model.TrustLevel, error) {
	if cred.OAuth2Token == nil || !cred.OAuth2Token.Valid() {
		return "", 0, a2aerr.New(a2aerr.Unauthorized, "oauth2: missing or expired token")
	}
	if v.introspect == nil {
		return "", 0, a2aerr.New(a2aerr.Unauthorized, "oauth2: no introspection endpoint configured")
	}
	agentID, err := v.introspect(ctx, cred.OAuth2Token)
	if err != nil {
		return "", 0, a2aerr.Wrap(a2aerr.Unauthorized, err, "oauth2: introspection failed")
	}
	return agentID, v.source.TrustFor(agentID, model.TrustVerified), nil
}

// noneVerifier always yields a Public-trust anonymous session.
type noneVerifier struct{}

func (noneVerifier) Verify(context.Context, Credential) (model.AgentId, model.TrustLevel, error) {
	return model.AgentId("anonymous"), model.TrustPublic, nil
}

// digitalSignatureVerifier checks a caller-supplied signature against a
// pluggable verify function (e.g. Ed25519, ECDSA) keyed by agent id. The
// agent id itself travels out-of-band in SignedBytes, the conventional
// place a signed envelope carries its claimed identity; the verify
// function is responsible for checking the signature was produced by
// that agent's registered public key.
type digitalSignatureVerifier struct {
	source *CredentialSource
	verify func(agentID model.AgentId, signed, sig []byte) bool
}

func (v digitalSignatureVerifier) Verify(_ context.Context, cred Credential) (model.AgentId, model.TrustLevel, error) {
	if len(cred.Signature) == 0 || len(cred.SignedBytes) == 0 {
		return "", 0, a2aerr.New(a2aerr.Unauthorized, "digital_signature: signature and signed bytes required")
	}
	agentID := model.AgentId(signedEnvelopeAgentID(cred.SignedBytes))
	if agentID == "" {
		return "", 0, a2aerr.New(a2aerr.Unauthorized, "digital_signature: signed envelope missing agent id")
	}
	if v.verify == nil {
		return "", 0, a2aerr.New(a2aerr.Unauthorized, "digital_signature: no verification key configured")
	}
	if !v.verify(agentID, cred.SignedBytes, cred.Signature) {
		return "", 0, a2aerr.New(a2aerr.Unauthorized, "digital_signature: signature does not verify")
	}
	return agentID, v.source.TrustFor(agentID, model.TrustTrusted), nil
}

// signedEnvelopeAgentID extracts the agent id prefix from a signed
// envelope of the form "<agentID>\n<payload>", the same framing the
// caller used when producing the signature.
func signedEnvelopeAgentID(signed []byte) string {
	for i, b := range signed {
		if b == '\n' {
			return string(signed[:i])
		}
	}
	return ""
}

// MinTrustForOperation is the per-method minimum trust table (spec.md
// §4.7, e.g. registerAgent requires >= Verified).
var MinTrustForOperation = map[string]model.TrustLevel{
	"registerAgent":   model.TrustVerified,
	"unregisterAgent": model.TrustVerified,
	"submitTask":      model.TrustPublic,
	"sendMessage":     model.TrustPublic,
	"cancelTask":      model.TrustVerified,
}

// sessionSweepDefault is the default background sweep interval.
const sessionSweepDefault = 60 * time.Second
