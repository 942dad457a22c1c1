// Package client executes resolved discovery requests, singly or batched,
// attaching credentials and decoding responses.
package client

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/kolah/disco/discovery"
	"github.com/kolah/disco/internal/metrics"
)

const (
	DefaultBatchLimit = 1000
	DefaultUserAgent  = "disco-go"
)

// Transport sends HTTP requests. *http.Client satisfies it.
type Transport interface {
	Do(*http.Request) (*http.Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(*http.Request) (*http.Response, error)

func (f TransportFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// TokenSource supplies bearer tokens. *credentials.Manager satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(token string)
}

// ResponseValidator checks a successful response against an external
// contract, such as an OpenAPI document. The response body is readable.
type ResponseValidator interface {
	ValidateResponse(req *http.Request, resp *http.Response) error
}

type Option func(*Executor)

func WithTransport(t Transport) Option {
	return func(e *Executor) { e.transport = t }
}

// WithCredentials authenticates every request with tokens from ts.
func WithCredentials(ts TokenSource) Option {
	return func(e *Executor) { e.tokens = ts }
}

// WithRateLimit paces outgoing requests. A limit of zero disables pacing.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(e *Executor) {
		if limit <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Executor) { e.metrics = metrics.New(reg) }
}

func WithResponseValidator(v ResponseValidator) Option {
	return func(e *Executor) { e.validator = v }
}

// WithBatchLimit caps the number of calls in one batch.
func WithBatchLimit(n int) Option {
	return func(e *Executor) { e.batchLimit = n }
}

func WithUserAgent(ua string) Option {
	return func(e *Executor) { e.userAgent = ua }
}

// WithLenient makes Call ignore argument keys the method does not declare.
func WithLenient() Option {
	return func(e *Executor) { e.lenient = true }
}

// Client resolves and executes calls against one discovery document.
type Client struct {
	*Executor
}

func New(doc *discovery.Document, opts ...Option) *Client {
	return &Client{Executor: NewExecutor(doc, opts...)}
}

// Document returns the discovery document the client was built from.
func (c *Client) Document() *discovery.Document {
	return c.doc
}

// Resolve builds the request for the method at the dotted path.
func (c *Client) Resolve(path string, args discovery.Args, opts ...discovery.CallOption) (*discovery.Request, error) {
	if c.lenient {
		opts = append([]discovery.CallOption{discovery.Lenient()}, opts...)
	}
	return c.doc.Resolve(path, args, opts...)
}

// Call resolves and executes a single method call.
func (c *Client) Call(ctx context.Context, path string, args discovery.Args, opts ...discovery.CallOption) (*Response, error) {
	req, err := c.Resolve(path, args, opts...)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, req)
}

// Batch executes already resolved requests as one batch.
func (c *Client) Batch(ctx context.Context, reqs ...*discovery.Request) (BatchResults, error) {
	return c.ExecuteBatch(ctx, reqs)
}
