package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kolah/disco/credentials"
	"github.com/kolah/disco/discovery"
)

func loadInventory(t *testing.T) *discovery.Document {
	t.Helper()
	raw, err := os.ReadFile("../discovery/testdata/inventory.json")
	require.NoError(t, err)
	doc, err := discovery.Parse(raw)
	require.NoError(t, err)
	return doc
}

type fakeTokens struct {
	mu          sync.Mutex
	tokens      []string
	current     int
	invalidated []string
	err         error
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.tokens[f.current], nil
}

func (f *fakeTokens) Invalidate(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, token)
	if token == f.tokens[f.current] && f.current < len(f.tokens)-1 {
		f.current++
	}
}

func respond(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": {"application/json"}}
}

func TestCallSuccess(t *testing.T) {
	doc := loadInventory(t)
	var seen *http.Request
	transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
		seen = req
		return respond(http.StatusOK, jsonHeader(), `{"id":"42","name":"widget","quantity":3}`), nil
	})
	c := New(doc, WithTransport(transport), WithCredentials(&fakeTokens{tokens: []string{"t1"}}), WithUserAgent("disco-test"))

	resp, err := c.Call(context.Background(), "items.get", discovery.Args{"id": "42"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Bearer t1", seen.Header.Get("Authorization"))
	require.Equal(t, "disco-test", seen.Header.Get("User-Agent"))
	require.Equal(t, "https://inventory.example.com/inventory/v1/items/42", seen.URL.String())

	data := resp.Data.(map[string]any)
	require.Equal(t, "widget", data["name"])

	var item struct {
		ID       string `json:"id"`
		Quantity int    `json:"quantity"`
	}
	require.NoError(t, resp.Decode(&item))
	require.Equal(t, "42", item.ID)
	require.Equal(t, 3, item.Quantity)
}

func TestCallValidationNeverSends(t *testing.T) {
	doc := loadInventory(t)
	var calls atomic.Int64
	transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return respond(http.StatusOK, nil, ""), nil
	})
	c := New(doc, WithTransport(transport))

	_, err := c.Call(context.Background(), "items.get", discovery.Args{})
	var vErr *discovery.ValidationError
	require.True(t, errors.As(err, &vErr))
	require.Equal(t, "id", vErr.Param)

	_, err = c.Call(context.Background(), "nope.get", nil)
	var nf *discovery.NotFoundError
	require.True(t, errors.As(err, &nf))

	require.Zero(t, calls.Load())
}

func TestCallLenient(t *testing.T) {
	doc := loadInventory(t)
	transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusNoContent, nil, ""), nil
	})

	_, err := New(doc, WithTransport(transport)).Call(context.Background(), "items.delete", discovery.Args{"id": "1", "extra": "x"})
	require.Error(t, err)

	resp, err := New(doc, WithTransport(transport), WithLenient()).Call(context.Background(), "items.delete", discovery.Args{"id": "1", "extra": "x"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Nil(t, resp.Data)
}

func TestExecuteRefreshesOnceOn401(t *testing.T) {
	doc := loadInventory(t)

	t.Run("retry succeeds", func(t *testing.T) {
		tokens := &fakeTokens{tokens: []string{"old", "new"}}
		var auth []string
		transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
			auth = append(auth, req.Header.Get("Authorization"))
			if req.Header.Get("Authorization") == "Bearer old" {
				return respond(http.StatusUnauthorized, nil, ""), nil
			}
			return respond(http.StatusOK, jsonHeader(), `{"ok":true}`), nil
		})
		c := New(doc, WithTransport(transport), WithCredentials(tokens))

		resp, err := c.Call(context.Background(), "ping", nil)
		require.NoError(t, err)
		require.Equal(t, map[string]any{"ok": true}, resp.Data)
		require.Equal(t, []string{"Bearer old", "Bearer new"}, auth)
		require.Equal(t, []string{"old"}, tokens.invalidated)
	})

	t.Run("second 401 is returned", func(t *testing.T) {
		tokens := &fakeTokens{tokens: []string{"a", "b", "c"}}
		var calls atomic.Int64
		transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
			calls.Add(1)
			return respond(http.StatusUnauthorized, jsonHeader(), `{"error":{"code":401,"message":"Invalid Credentials","errors":[{"reason":"authError"}]}}`), nil
		})
		c := New(doc, WithTransport(transport), WithCredentials(tokens))

		_, err := c.Call(context.Background(), "ping", nil)
		var he *HTTPError
		require.True(t, errors.As(err, &he))
		require.Equal(t, http.StatusUnauthorized, he.StatusCode)
		require.Equal(t, "authError", he.Reason)
		require.EqualValues(t, 2, calls.Load())
		require.Equal(t, []string{"a"}, tokens.invalidated)
	})
}

func TestExecuteWithCredentialManager(t *testing.T) {
	doc := loadInventory(t)
	var exchanges atomic.Int64
	transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Host == "oauth.test" {
			exchanges.Add(1)
			return respond(http.StatusOK, jsonHeader(), `{"access_token":"minted","expires_in":3600}`), nil
		}
		if req.Header.Get("Authorization") != "Bearer minted" {
			return respond(http.StatusUnauthorized, nil, ""), nil
		}
		return respond(http.StatusOK, jsonHeader(), `{"ok":true}`), nil
	})
	mgr := credentials.NewManager(credentials.Credential{
		AccessToken:  "revoked",
		RefreshToken: "r1",
		TokenURL:     "https://oauth.test/token",
	}, credentials.WithTransport(transport))
	c := New(doc, WithTransport(transport), WithCredentials(mgr))

	_, err := c.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, exchanges.Load())
	require.Equal(t, "minted", mgr.Snapshot().AccessToken)
}

func TestExecuteErrors(t *testing.T) {
	doc := loadInventory(t)

	tests := []struct {
		name   string
		path   string
		args   discovery.Args
		resp   func() (*http.Response, error)
		tokens TokenSource
		check  func(t *testing.T, err error)
	}{
		{
			name: "http error with structured body",
			path: "items.get",
			args: discovery.Args{"id": "404"},
			resp: func() (*http.Response, error) {
				h := jsonHeader()
				h.Set("X-Request-Id", "req-123")
				return respond(http.StatusNotFound, h, `{"error":{"code":404,"message":"Item not found","status":"NOT_FOUND","errors":[{"domain":"global","reason":"notFound","message":"Item not found"}]}}`), nil
			},
			check: func(t *testing.T, err error) {
				var he *HTTPError
				require.True(t, errors.As(err, &he))
				require.Equal(t, http.StatusNotFound, he.StatusCode)
				require.Equal(t, "Item not found", he.Message)
				require.Equal(t, "NOT_FOUND", he.Reason)
				require.Equal(t, "req-123", he.RequestID)
				require.Len(t, he.Details, 1)
				require.Equal(t, "notFound", he.Details[0].Reason)
				require.Contains(t, he.Error(), "http error 404: Item not found (NOT_FOUND)")
			},
		},
		{
			name: "http error with plain body",
			path: "ping",
			resp: func() (*http.Response, error) {
				return respond(http.StatusBadGateway, nil, "upstream down"), nil
			},
			check: func(t *testing.T, err error) {
				var he *HTTPError
				require.True(t, errors.As(err, &he))
				require.Equal(t, "upstream down", string(he.Body))
				require.Empty(t, he.Message)
				require.True(t, Retriable(err))
			},
		},
		{
			name: "transport failure",
			path: "ping",
			resp: func() (*http.Response, error) {
				return nil, errors.New("connection reset")
			},
			check: func(t *testing.T, err error) {
				var te *TransportError
				require.True(t, errors.As(err, &te))
				require.Equal(t, "GET", te.Method)
				require.Contains(t, te.URL, "/ping")
				require.True(t, Retriable(err))
			},
		},
		{
			name: "body is not json",
			path: "ping",
			resp: func() (*http.Response, error) {
				return respond(http.StatusOK, nil, "<html>"), nil
			},
			check: func(t *testing.T, err error) {
				var de *DecodeError
				require.True(t, errors.As(err, &de))
				require.Equal(t, "<html>", string(de.Body))
			},
		},
		{
			name: "body does not match response schema",
			path: "items.get",
			args: discovery.Args{"id": "1"},
			resp: func() (*http.Response, error) {
				return respond(http.StatusOK, jsonHeader(), `[1,2,3]`), nil
			},
			check: func(t *testing.T, err error) {
				var de *DecodeError
				require.True(t, errors.As(err, &de))
				require.Contains(t, err.Error(), "expected object, got array")
			},
		},
		{
			name: "credential failure",
			path: "ping",
			resp: func() (*http.Response, error) {
				panic("transport must not be called")
			},
			tokens: &fakeTokens{err: &credentials.AuthError{Err: errors.New("revoked"), Code: "invalid_grant", Terminal: true}},
			check: func(t *testing.T, err error) {
				var ae *credentials.AuthError
				require.True(t, errors.As(err, &ae))
				require.False(t, Retriable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{WithTransport(TransportFunc(func(*http.Request) (*http.Response, error) { return tt.resp() }))}
			if tt.tokens != nil {
				opts = append(opts, WithCredentials(tt.tokens))
			}
			_, err := New(doc, opts...).Call(context.Background(), tt.path, tt.args)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestExecuteMediaDownload(t *testing.T) {
	doc := loadInventory(t)
	transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "media", req.URL.Query().Get("alt"))
		return respond(http.StatusOK, http.Header{"Content-Type": {"image/png"}}, "\x89PNG"), nil
	})
	c := New(doc, WithTransport(transport))

	resp, err := c.Call(context.Background(), "items.get", discovery.Args{"id": "1"}, discovery.WithMediaDownload())
	require.NoError(t, err)
	require.Nil(t, resp.Data)
	require.Equal(t, "\x89PNG", string(resp.Body))
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestExecuteRejectsOversizedBody(t *testing.T) {
	doc := loadInventory(t)
	transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/octet-stream"}},
			Body:       io.NopCloser(io.LimitReader(zeros{}, maxResponseBody+1024)),
		}, nil
	})
	c := New(doc, WithTransport(transport))

	resp, err := c.Call(context.Background(), "items.get", discovery.Args{"id": "1"}, discovery.WithMediaDownload())
	require.Nil(t, resp)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.ErrorContains(t, err, "exceeds")
}

type rejectAll struct{ calls int }

func (r *rejectAll) ValidateResponse(req *http.Request, resp *http.Response) error {
	r.calls++
	body, _ := io.ReadAll(resp.Body)
	return errors.New("response rejected: " + string(body))
}

func TestExecuteResponseValidator(t *testing.T) {
	doc := loadInventory(t)
	transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusOK, jsonHeader(), `{"ok":true}`), nil
	})
	v := &rejectAll{}
	c := New(doc, WithTransport(transport), WithResponseValidator(v))

	_, err := c.Call(context.Background(), "ping", nil)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	require.Contains(t, err.Error(), `response rejected: {"ok":true}`)
	require.Equal(t, 1, v.calls)
}

func TestExecuteRateLimiterHonoursContext(t *testing.T) {
	doc := loadInventory(t)
	transport := TransportFunc(func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusOK, jsonHeader(), `{}`), nil
	})
	c := New(doc, WithTransport(transport), WithRateLimit(rate.Limit(1), 1))

	_, err := c.Call(context.Background(), "ping", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Call(ctx, "ping", nil)
	require.ErrorIs(t, err, context.Canceled)
}
