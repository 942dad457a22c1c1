package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	*httptest.Server
	exchanges atomic.Int64
	forms     chan map[string]string
}

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, n int64)) *tokenServer {
	t.Helper()
	ts := &tokenServer{forms: make(chan map[string]string, 64)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.exchanges.Add(1)
		require.NoError(t, r.ParseForm())
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		select {
		case ts.forms <- form:
		default:
		}
		handler(w, r, n)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeToken(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": "rejected"})
}

func TestTokenFreshNoIO(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
		t.Error("unexpected token exchange")
	})
	m := NewManager(Credential{
		AccessToken:  "current",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(time.Hour),
		TokenURL:     ts.URL,
	})
	require.Equal(t, Valid, m.State())

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "current", tok)
	require.Zero(t, ts.exchanges.Load())
}

func TestTokenNonExpiring(t *testing.T) {
	m := NewManager(Credential{AccessToken: "static"})
	require.Equal(t, Valid, m.State())

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "static", tok)
}

func TestTokenRefreshWithinMargin(t *testing.T) {
	var m *Manager
	var during atomic.Int64
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
		during.Store(int64(m.State()))
		writeToken(w, map[string]any{"access_token": "refreshed", "token_type": "Bearer", "expires_in": 3600})
	})
	m = NewManager(Credential{
		AccessToken:  "stale",
		RefreshToken: "r1",
		ClientID:     "id",
		ClientSecret: "secret",
		Expiry:       time.Now().Add(30 * time.Second),
		TokenURL:     ts.URL,
	}, WithExpiryMargin(60*time.Second))

	// A token with 30s left is not fresh under a 60s margin.
	require.Equal(t, Unauthenticated, m.State())

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "refreshed", tok)
	require.Equal(t, Refreshing, State(during.Load()))
	require.Equal(t, Valid, m.State())
	require.EqualValues(t, 1, ts.exchanges.Load())

	form := <-ts.forms
	require.Equal(t, "refresh_token", form["grant_type"])
	require.Equal(t, "r1", form["refresh_token"])
	require.Equal(t, "id", form["client_id"])
	require.Equal(t, "secret", form["client_secret"])

	snap := m.Snapshot()
	require.Equal(t, "r1", snap.RefreshToken)
	require.WithinDuration(t, time.Now().Add(time.Hour), snap.Expiry, time.Minute)
}

func TestTokenValidBecomesRefreshingWithinMargin(t *testing.T) {
	var now atomic.Int64
	base := time.Now()
	now.Store(base.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
		writeToken(w, map[string]any{"access_token": "next", "expires_in": 3600})
	})
	m := NewManager(Credential{
		AccessToken:  "first",
		RefreshToken: "r1",
		Expiry:       base.Add(90 * time.Second),
		TokenURL:     ts.URL,
	}, WithClock(clock))
	require.Equal(t, Valid, m.State())

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", tok)

	// 30s before expiry with the default 60s margin.
	now.Store(base.Add(60 * time.Second).UnixNano())
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "next", tok)
	require.Equal(t, Valid, m.State())
	require.EqualValues(t, 1, ts.exchanges.Load())
}

func TestTokenCoalescesConcurrentRefresh(t *testing.T) {
	release := make(chan struct{})
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
		<-release
		writeToken(w, map[string]any{"access_token": "shared", "expires_in": 3600})
	})
	reg := prometheus.NewRegistry()
	m := NewManager(Credential{RefreshToken: "r1", TokenURL: ts.URL}, WithRegisterer(reg))

	const callers = 32
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.Token(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return m.State() == Refreshing }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "shared", tokens[i])
	}
	require.EqualValues(t, 1, ts.exchanges.Load())
}

func TestTokenCallerCancellationDoesNotAbortExchange(t *testing.T) {
	release := make(chan struct{})
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
		<-release
		writeToken(w, map[string]any{"access_token": "late", "expires_in": 3600})
	})
	m := NewManager(Credential{RefreshToken: "r1", TokenURL: ts.URL})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Token(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return m.State() == Refreshing }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(release)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "late", tok)
	require.EqualValues(t, 1, ts.exchanges.Load())
}

func TestTokenTerminalFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter)
		code    string
	}{
		{"invalid_grant", func(w http.ResponseWriter) { writeOAuthError(w, http.StatusBadRequest, "invalid_grant") }, "invalid_grant"},
		{"invalid_client", func(w http.ResponseWriter) { writeOAuthError(w, http.StatusUnauthorized, "invalid_client") }, "invalid_client"},
		{"invalid_scope", func(w http.ResponseWriter) { writeOAuthError(w, http.StatusBadRequest, "invalid_scope") }, "invalid_scope"},
		{"bare 403", func(w http.ResponseWriter) { http.Error(w, "forbidden", http.StatusForbidden) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
				if r.PostForm.Get("refresh_token") == "good" {
					writeToken(w, map[string]any{"access_token": "recovered", "expires_in": 3600})
					return
				}
				tt.handler(w)
			})
			m := NewManager(Credential{RefreshToken: "revoked", TokenURL: ts.URL})

			_, err := m.Token(context.Background())
			var aerr *AuthError
			require.True(t, errors.As(err, &aerr))
			require.True(t, aerr.Terminal)
			require.False(t, aerr.Temporary())
			require.Equal(t, tt.code, aerr.Code)
			require.Equal(t, Invalid, m.State())

			// Stays invalid without touching the endpoint again.
			_, err = m.Token(context.Background())
			require.True(t, errors.As(err, &aerr))
			require.EqualValues(t, 1, ts.exchanges.Load())

			m.Reset(Credential{RefreshToken: "good", TokenURL: ts.URL})
			require.Equal(t, Unauthenticated, m.State())
			tok, err := m.Token(context.Background())
			require.NoError(t, err)
			require.Equal(t, "recovered", tok)
		})
	}
}

func TestTokenTemporaryFailureReverts(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
		if n == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		writeToken(w, map[string]any{"access_token": "second-try", "expires_in": 3600})
	})
	m := NewManager(Credential{RefreshToken: "r1", TokenURL: ts.URL})

	_, err := m.Token(context.Background())
	var aerr *AuthError
	require.True(t, errors.As(err, &aerr))
	require.True(t, aerr.Temporary())
	require.Equal(t, http.StatusServiceUnavailable, aerr.StatusCode)
	require.Equal(t, Unauthenticated, m.State())

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "second-try", tok)
	require.EqualValues(t, 2, ts.exchanges.Load())
}

func TestTokenNetworkFailureKeepsStaleValid(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {})
	url := ts.URL
	ts.Close()

	m := NewManager(Credential{AccessToken: "old", RefreshToken: "r1", TokenURL: url, Expiry: time.Now().Add(time.Hour)})
	m.Invalidate("old")

	_, err := m.Token(context.Background())
	var aerr *AuthError
	require.True(t, errors.As(err, &aerr))
	require.True(t, aerr.Temporary())
	require.Equal(t, Valid, m.State())
	require.Equal(t, "old", m.Snapshot().AccessToken)
}

func TestInvalidate(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
		writeToken(w, map[string]any{"access_token": "replacement", "refresh_token": "r2", "expires_in": 3600})
	})
	m := NewManager(Credential{AccessToken: "current", RefreshToken: "r1", TokenURL: ts.URL})

	m.Invalidate("someone-elses")
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "current", tok)
	require.Zero(t, ts.exchanges.Load())

	m.Invalidate("current")
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "replacement", tok)
	require.Equal(t, "r2", m.Snapshot().RefreshToken)

	// A late Invalidate for the replaced token is ignored.
	m.Invalidate("current")
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "replacement", tok)
	require.EqualValues(t, 1, ts.exchanges.Load())
}

func TestResetDuringRefresh(t *testing.T) {
	release := make(chan struct{})
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
		<-release
		writeToken(w, map[string]any{"access_token": "from-exchange", "expires_in": 3600})
	})
	m := NewManager(Credential{RefreshToken: "r1", TokenURL: ts.URL})

	done := make(chan string, 1)
	go func() {
		tok, _ := m.Token(context.Background())
		done <- tok
	}()
	require.Eventually(t, func() bool { return m.State() == Refreshing }, time.Second, time.Millisecond)

	m.Reset(Credential{AccessToken: "from-reset", Expiry: time.Now().Add(time.Hour)})
	close(release)

	require.Equal(t, "from-reset", <-done)
	require.Equal(t, Valid, m.State())
	require.Equal(t, "from-reset", m.Snapshot().AccessToken)
}

func TestNoGrant(t *testing.T) {
	m := NewManager(Credential{AccessToken: "expired", Expiry: time.Now().Add(-time.Minute)})

	_, err := m.Token(context.Background())
	require.ErrorIs(t, err, ErrNoGrant)
	var aerr *AuthError
	require.True(t, errors.As(err, &aerr))
	require.True(t, aerr.Terminal)
	require.Equal(t, Invalid, m.State())
}

func TestClientCredentialsGrant(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int64) {
		writeToken(w, map[string]any{"access_token": "app-token", "expires_in": 3600})
	})
	m := NewManager(Credential{
		ClientID:     "app",
		ClientSecret: "s3cret",
		Scopes:       []string{"a", "b"},
		TokenURL:     ts.URL,
	})

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "app-token", tok)

	form := <-ts.forms
	require.Equal(t, "client_credentials", form["grant_type"])
	require.Equal(t, "app", form["client_id"])
	require.Equal(t, "s3cret", form["client_secret"])
	require.Equal(t, "a b", form["scope"])
}

func TestStateString(t *testing.T) {
	require.Equal(t, "unauthenticated", Unauthenticated.String())
	require.Equal(t, "valid", Valid.String())
	require.Equal(t, "refreshing", Refreshing.String())
	require.Equal(t, "invalid", Invalid.String())
	require.Equal(t, "state(9)", State(9).String())
}
