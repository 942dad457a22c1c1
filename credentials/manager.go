// Package credentials owns the OAuth2 credential lifecycle: it hands out
// access tokens and coalesces concurrent refreshes into a single exchange
// with the token endpoint.
package credentials

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/kolah/disco/internal/metrics"
)

// State is the lifecycle state of a Manager.
type State int

const (
	Unauthenticated State = iota
	Valid
	Refreshing
	Invalid
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Valid:
		return "valid"
	case Refreshing:
		return "refreshing"
	case Invalid:
		return "invalid"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

const (
	DefaultExpiryMargin    = 60 * time.Second
	DefaultExchangeTimeout = 30 * time.Second
)

// Credential is the material a Manager works from. A zero Expiry means the
// access token does not expire.
type Credential struct {
	AccessToken    string
	RefreshToken   string
	Expiry         time.Time
	Scopes         []string
	ClientID       string
	ClientSecret   string
	TokenURL       string
	ServiceAccount *ServiceAccountKey
	// Subject is the user a service account acts on behalf of.
	Subject string
}

func (c Credential) clone() Credential {
	c.Scopes = slices.Clone(c.Scopes)
	if c.ServiceAccount != nil {
		key := *c.ServiceAccount
		c.ServiceAccount = &key
	}
	return c
}

// Manager is the sole owner of a Credential. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	cred    Credential
	state   State
	stale   bool
	lastErr *AuthError
	gen     uint64

	group singleflight.Group

	margin     time.Duration
	timeout    time.Duration
	now        func() time.Time
	transport  Transport
	httpClient *http.Client
	logger     hclog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Manager)

// WithExpiryMargin treats tokens expiring within d as already expired.
func WithExpiryMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithExchangeTimeout bounds a single token endpoint exchange.
func WithExchangeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTransport routes token endpoint traffic through t.
func WithTransport(t Transport) Option {
	return func(m *Manager) { m.transport = t }
}

func WithLogger(l hclog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRegisterer records refresh outcomes in reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.metrics = metrics.New(reg) }
}

func NewManager(cred Credential, opts ...Option) *Manager {
	m := &Manager{
		margin:    DefaultExpiryMargin,
		timeout:   DefaultExchangeTimeout,
		now:       time.Now,
		transport: http.DefaultClient,
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("credentials")
	m.httpClient = httpClientFor(m.transport)
	m.install(cred)
	return m
}

// Token returns an access token that will not expire within the margin.
// A fresh token is returned without I/O; otherwise the caller joins the
// single in-flight exchange. Abandoning ctx stops the wait but never the
// exchange itself.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if tok, ok := m.freshLocked(); ok {
		m.mu.Unlock()
		return tok, nil
	}
	if m.state == Invalid {
		err := m.lastErr
		m.mu.Unlock()
		return "", err
	}
	key := strconv.FormatUint(m.gen, 10)
	m.mu.Unlock()

	base := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return m.refresh(base)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	if tok, ok := m.freshLocked(); ok {
		m.mu.Unlock()
		return tok, nil
	}
	if m.state == Invalid {
		err := m.lastErr
		m.mu.Unlock()
		return "", err
	}
	prev := m.state
	gen := m.gen
	cred := m.cred.clone()
	m.setStateLocked(Refreshing)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	start := m.now()
	tok, grant, err := m.exchange(ctx, cred)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		m.logger.Debug("discarding exchange result, credential was reset", "grant", grant)
		if fresh, ok := m.freshLocked(); ok {
			return fresh, nil
		}
		return "", &AuthError{Err: errors.New("credential was replaced during refresh")}
	}

	if err != nil {
		aerr := classify(err)
		if aerr.Terminal {
			m.lastErr = aerr
			m.setStateLocked(Invalid)
			m.metrics.ObserveRefresh(metrics.RefreshTerminal)
			m.logger.Error("token exchange rejected", "grant", grant, "code", aerr.Code, "error", aerr.Err)
		} else {
			m.setStateLocked(prev)
			m.metrics.ObserveRefresh(metrics.RefreshTemporary)
			m.logger.Warn("token exchange failed", "grant", grant, "error", aerr.Err)
		}
		return "", aerr
	}

	m.cred.AccessToken = tok.AccessToken
	m.cred.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		m.cred.RefreshToken = tok.RefreshToken
	}
	m.stale = false
	m.setStateLocked(Valid)
	m.metrics.ObserveRefresh(metrics.RefreshOK)
	m.logger.Debug("token exchange complete", "grant", grant, "duration", m.now().Sub(start), "expiry", tok.Expiry)
	return tok.AccessToken, nil
}

// Invalidate marks token stale if it is still the current access token, so
// that the next Token call refreshes. Tokens already replaced are ignored.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || token != m.cred.AccessToken || m.state != Valid {
		return
	}
	m.stale = true
	m.logger.Warn("access token rejected, marked stale")
}

// Reset replaces the credential. The manager becomes Valid when the new
// credential carries a fresh access token and Unauthenticated otherwise. An
// exchange already in flight completes but its result is discarded.
func (m *Manager) Reset(cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.install(cred)
}

func (m *Manager) install(cred Credential) {
	m.cred = cred.clone()
	m.stale = false
	m.lastErr = nil
	m.state = Valid
	if _, ok := m.freshLocked(); !ok {
		m.state = Unauthenticated
	}
	m.logger.Debug("credential installed", "state", m.state)
}

// Snapshot returns a copy of the current credential.
func (m *Manager) Snapshot() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.clone()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) freshLocked() (string, bool) {
	if m.state != Valid || m.stale || m.cred.AccessToken == "" {
		return "", false
	}
	if !m.cred.Expiry.IsZero() && !m.now().Add(m.margin).Before(m.cred.Expiry) {
		return "", false
	}
	return m.cred.AccessToken, true
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Info("credential state changed", "from", m.state, "to", s)
	m.state = s
}
