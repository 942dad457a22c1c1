package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/kolah/disco/discovery"
	"github.com/kolah/disco/internal/metrics"
)

const maxResponseBody = 64 << 20

// Executor sends resolved requests. It is safe for concurrent use.
type Executor struct {
	doc        *discovery.Document
	transport  Transport
	tokens     TokenSource
	limiter    *rate.Limiter
	logger     hclog.Logger
	metrics    *metrics.Metrics
	validator  ResponseValidator
	batchLimit int
	userAgent  string
	lenient    bool
}

func NewExecutor(doc *discovery.Document, opts ...Option) *Executor {
	e := &Executor{
		doc:        doc,
		transport:  http.DefaultClient,
		logger:     hclog.NewNullLogger(),
		batchLimit: DefaultBatchLimit,
		userAgent:  DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("executor")
	return e
}

// rawResponse is a response read fully into memory.
type rawResponse struct {
	httpReq    *http.Request
	statusCode int
	status     string
	header     http.Header
	body       []byte
}

// Execute sends req and decodes the reply. A 401 invalidates the token and
// resends once with a fresh one.
func (e *Executor) Execute(ctx context.Context, req *discovery.Request) (*Response, error) {
	raw, err := e.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.finish(req, raw)
}

// roundTrip performs the exchange, including pacing, authentication and the
// single refresh-retry on 401.
func (e *Executor) roundTrip(ctx context.Context, req *discovery.Request) (*rawResponse, error) {
	label := req.MethodPath()
	if label == "" {
		label = req.Method()
	}

	for attempt := 0; ; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}

		var token string
		if e.tokens != nil {
			t, err := e.tokens.Token(ctx)
			if err != nil {
				return nil, err
			}
			token = t
		}

		httpReq, err := req.HTTPRequest(ctx)
		if err != nil {
			return nil, &TransportError{Err: err, Method: req.Method(), URL: req.URL()}
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
		if e.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
			httpReq.Header.Set("User-Agent", e.userAgent)
		}

		start := time.Now()
		resp, err := e.transport.Do(httpReq)
		if err != nil {
			e.metrics.ObserveRequest(label, 0, time.Since(start))
			e.logger.Debug("request failed", "method", req.Method(), "url", req.URL(), "error", err)
			return nil, &TransportError{Err: err, Method: req.Method(), URL: req.URL()}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
		resp.Body.Close()
		elapsed := time.Since(start)
		e.metrics.ObserveRequest(label, resp.StatusCode, elapsed)
		if err != nil {
			return nil, &TransportError{Err: fmt.Errorf("reading response body: %w", err), Method: req.Method(), URL: req.URL()}
		}
		if len(body) > maxResponseBody {
			return nil, &DecodeError{Err: fmt.Errorf("response body exceeds %d bytes", maxResponseBody)}
		}
		e.logger.Debug("request", "method", req.Method(), "url", req.URL(), "status", resp.StatusCode, "duration", elapsed)

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 && token != "" {
			e.logger.Warn("unauthorized, refreshing token and retrying", "method", label)
			e.metrics.ObserveAuthRetry()
			e.tokens.Invalidate(token)
			continue
		}

		return &rawResponse{
			httpReq:    httpReq,
			statusCode: resp.StatusCode,
			status:     resp.Status,
			header:     resp.Header,
			body:       body,
		}, nil
	}
}

// finish turns a raw reply into a Response or the matching error.
func (e *Executor) finish(req *discovery.Request, raw *rawResponse) (*Response, error) {
	if raw.statusCode < 200 || raw.statusCode > 299 {
		return nil, newHTTPError(raw.statusCode, raw.status, raw.header, raw.body)
	}

	resp := &Response{
		StatusCode: raw.statusCode,
		Header:     raw.header,
		Body:       raw.body,
		ContentID:  req.ContentID(),
	}
	if req.MediaDownload() || len(bytes.TrimSpace(raw.body)) == 0 {
		return resp, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.body))
	dec.UseNumber()
	if err := dec.Decode(&resp.Data); err != nil {
		return nil, &DecodeError{Err: err, Body: raw.body}
	}
	if schema := req.ResponseSchema(); schema != nil && e.doc != nil {
		if err := e.doc.CheckValue(schema, resp.Data); err != nil {
			return nil, &DecodeError{Err: fmt.Errorf("response does not match schema: %w", err), Body: raw.body}
		}
	}
	if e.validator != nil && raw.httpReq != nil {
		httpResp := &http.Response{
			StatusCode: raw.statusCode,
			Status:     raw.status,
			Header:     raw.header,
			Body:       io.NopCloser(bytes.NewReader(raw.body)),
			Request:    raw.httpReq,
		}
		if err := e.validator.ValidateResponse(raw.httpReq, httpResp); err != nil {
			return nil, &DecodeError{Err: err, Body: raw.body}
		}
	}
	return resp, nil
}
