package security

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/a2afabric/broker/a2aerr"
	"github.com/a2afabric/broker/model"
	"github.com/a2afabric/broker/telemetry"
)

// AuditEntry is one append-only audit log record. The Manager records
// authentication attempts, authorization decisions and session
// revocations; KeyManager operations are not recorded.
type AuditEntry struct {
	Timestamp time.Time
	Subject   string
	Operation string
	Outcome   string
}

// Decision is the outcome of an authorization check.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Manager is the security manager: it dispatches authentication by mode,
// tracks sessions, authorizes operations, rate-limits per session, and
// appends to the audit log.
type Manager struct {
	verifiers map[AuthMode]Verifier

	mu       sync.Mutex
	sessions map[model.SessionId]*model.Session
	limiters map[model.SessionId]*rate.Limiter

	sessionTTL    time.Duration
	sweepInterval time.Duration

	audit  []AuditEntry
	logger telemetry.Logger

	keys *KeyManager

	stop chan struct{}
}

// Options configures a Manager.
type Options struct {
	CredentialSource *CredentialSource
	JWTKeyFunc       jwtKeyFunc
	SessionTTL       time.Duration
	SweepInterval    time.Duration
	Logger           telemetry.Logger
}

type jwtKeyFunc = func(ctx context.Context) (any, error)

// NewManager wires the standard Verifier set for every AuthMode and
// starts the session sweep loop.
func NewManager(opts Options) *Manager {
	if opts.CredentialSource == nil {
		opts.CredentialSource = NewCredentialSource()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = sessionSweepDefault
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	m := &Manager{
		verifiers: map[AuthMode]Verifier{
			AuthNone:   noneVerifier{},
			AuthAPIKey: apiKeyVerifier{source: opts.CredentialSource},
			AuthJWT: jwtVerifier{source: opts.CredentialSource, keyFunc: func(t *jwt.Token) (any, error) {
				return opts.JWTKeyFunc(context.Background())
			}},
			AuthMTLS:   mtlsVerifier{source: opts.CredentialSource},
			AuthOAuth2: oauth2Verifier{source: opts.CredentialSource},
			AuthDigitalSignature: digitalSignatureVerifier{
				source: opts.CredentialSource,
				verify: opts.CredentialSource.verifySignature,
			},
		},
		sessions:      make(map[model.SessionId]*model.Session),
		limiters:      make(map[model.SessionId]*rate.Limiter),
		sessionTTL:    opts.SessionTTL,
		sweepInterval: opts.SweepInterval,
		logger:        opts.Logger,
		keys:          NewKeyManager(),
		stop:          make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Close stops the background session sweep.
func (m *Manager) Close() { close(m.stop) }

// Authenticate verifies cred and creates a new Session on success.
func (m *Manager) Authenticate(ctx context.Context, cred Credential) (*model.Session, error) {
	v, ok := m.verifiers[cred.Mode]
	if !ok {
		return nil, a2aerr.New(a2aerr.Unauthorized, "unsupported auth mode %q", cred.Mode)
	}
	agentID, trust, err := v.Verify(ctx, cred)
	if err != nil {
		m.recordAudit(string(agentID), "authenticate", "deny")
		return nil, err
	}
	now := time.Now()
	sess := &model.Session{
		ID:         model.NewSessionId(),
		AgentID:    agentID,
		TrustLevel: trust,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.sessionTTL),
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	limit := limiterFor(trust)
	m.limiters[sess.ID] = rate.NewLimiter(limit, int(limit))
	m.mu.Unlock()
	m.recordAudit(string(agentID), "authenticate", "allow")
	return sess, nil
}

// limiterFor ties rate-limit tightness to trust tier (spec.md §4.7
// expansion: lower trust => tighter bucket).
func limiterFor(trust model.TrustLevel) rate.Limit {
	switch {
	case trust >= model.TrustInternal:
		return rate.Limit(1000)
	case trust >= model.TrustTrusted:
		return rate.Limit(200)
	case trust >= model.TrustVerified:
		return rate.Limit(50)
	default:
		return rate.Limit(10)
	}
}

// Validate checks a session is still usable, mapping expired/revoked to
// Unauthorized (spec.md §4.7).
func (m *Manager) Validate(id model.SessionId) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, a2aerr.New(a2aerr.Unauthorized, "unknown session %s", id)
	}
	if !sess.Valid(time.Now()) {
		return nil, a2aerr.New(a2aerr.Unauthorized, "session %s expired or revoked", id)
	}
	return sess, nil
}

// Revoke marks a session revoked, used on logout/rotation/admin action.
func (m *Manager) Revoke(id model.SessionId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		sess.Revoked = true
		m.recordAuditLocked(string(sess.AgentID), "revoke", "allow")
	}
}

// Check authorizes operation for session against the configured
// min_trust table: allowed iff min_trust <= session.trust_level, the
// session is not revoked/expired, and the session's rate limit is not
// exceeded (spec.md §4.7 default policy).
func (m *Manager) Check(sess *model.Session, operation string) (Decision, error) {
	if sess == nil || !sess.Valid(time.Now()) {
		m.recordAudit("", operation, "deny")
		return Deny, a2aerr.New(a2aerr.Unauthorized, "session invalid")
	}
	if !m.allow(sess.ID) {
		m.recordAudit(string(sess.AgentID), operation, "deny")
		return Deny, a2aerr.New(a2aerr.RateLimited, "rate limit exceeded for session %s", sess.ID)
	}
	min := MinTrustForOperation[operation]
	if !sess.TrustLevel.AtLeast(min) {
		m.recordAudit(string(sess.AgentID), operation, "deny")
		return Deny, a2aerr.New(a2aerr.Forbidden, "operation %s requires trust >= %d, session has %d", operation, min, sess.TrustLevel)
	}
	m.recordAudit(string(sess.AgentID), operation, "allow")
	return Allow, nil
}

func (m *Manager) allow(id model.SessionId) bool {
	m.mu.Lock()
	limiter, ok := m.limiters[id]
	m.mu.Unlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

func (m *Manager) recordAudit(subject, op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordAuditLocked(subject, op, outcome)
}

func (m *Manager) recordAuditLocked(subject, op, outcome string) {
	m.audit = append(m.audit, AuditEntry{Timestamp: time.Now(), Subject: subject, Operation: op, Outcome: outcome})
}

// Audit returns a copy of the append-only audit log.
func (m *Manager) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

// Keys exposes the key manager for encryption operations.
func (m *Manager) Keys() *KeyManager { return m.keys }

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for id, sess := range m.sessions {
				if now.After(sess.ExpiresAt) {
					delete(m.sessions, id)
					delete(m.limiters, id)
				}
			}
			m.mu.Unlock()
		}
	}
}
