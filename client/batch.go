package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/kolah/disco/discovery"
	"github.com/kolah/disco/internal/metrics"
)

// BatchResult is the outcome of one call inside a batch. Exactly one of
// Response and Err is set.
type BatchResult struct {
	ContentID string
	Request   *discovery.Request
	Response  *Response
	Err       error
}

// BatchResults holds one result per request, in request order.
type BatchResults []BatchResult

// Err aggregates the failed items, or returns nil when every item
// succeeded.
func (r BatchResults) Err() error {
	var result *multierror.Error
	for _, item := range r {
		if item.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", item.ContentID, item.Err))
		}
	}
	return result.ErrorOrNil()
}

// Failed returns the items that did not succeed.
func (r BatchResults) Failed() []BatchResult {
	var failed []BatchResult
	for _, item := range r {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// ExecuteBatch sends reqs as a single multipart request and matches the
// replies back by Content-ID. Failures of individual calls are reported per
// item; the returned error covers only problems that prevent the batch from
// being attempted.
func (e *Executor) ExecuteBatch(ctx context.Context, reqs []*discovery.Request) (BatchResults, error) {
	if len(reqs) == 0 {
		return BatchResults{}, nil
	}
	batchURL := ""
	if e.doc != nil {
		batchURL = e.doc.BatchURL()
	}
	if batchURL == "" {
		return nil, &discovery.ValidationError{Param: "batchPath", Reason: "service does not support batch requests"}
	}
	if e.batchLimit > 0 && len(reqs) > e.batchLimit {
		return nil, &discovery.ValidationError{Param: "requests", Reason: fmt.Sprintf("batch of %d calls exceeds the limit of %d", len(reqs), e.batchLimit)}
	}

	base := uuid.NewString()
	ids := make([]string, len(reqs))
	seen := make(map[string]bool, len(reqs))
	for i, req := range reqs {
		if req == nil {
			return nil, &discovery.ValidationError{Param: "requests", Reason: fmt.Sprintf("request %d is nil", i)}
		}
		id := req.ContentID()
		if id == "" {
			id = fmt.Sprintf("%s+%d", base, i+1)
		}
		if seen[id] {
			return nil, &discovery.ValidationError{Param: "requests", Reason: fmt.Sprintf("duplicate content id %q", id)}
		}
		seen[id] = true
		ids[i] = id
	}

	body, contentType, err := encodeBatch("batch_"+base, ids, reqs)
	if err != nil {
		return nil, err
	}
	outer := discovery.NewRequest(http.MethodPost, batchURL, http.Header{"Content-Type": {contentType}}, body)

	logger := e.logger.Named("batch")
	e.metrics.ObserveBatch(len(reqs))

	results := make(BatchResults, len(reqs))
	for i, req := range reqs {
		results[i] = BatchResult{ContentID: ids[i], Request: req}
	}

	raw, err := e.roundTrip(ctx, outer)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			return nil, err
		}
		logger.Debug("batch transport failed", "calls", len(reqs), "error", err)
		return e.failAll(results, err, metrics.ItemTransport), nil
	}
	if raw.statusCode < 200 || raw.statusCode > 299 {
		logger.Debug("batch rejected", "calls", len(reqs), "status", raw.statusCode)
		return e.failAll(results, newHTTPError(raw.statusCode, raw.status, raw.header, raw.body), metrics.ItemHTTPError), nil
	}

	parts, err := decodeBatch(raw.header.Get("Content-Type"), raw.body)
	if err != nil && len(parts) == 0 {
		return e.failAll(results, &DecodeError{Err: err, Body: raw.body}, metrics.ItemDecode), nil
	}
	if err != nil {
		logger.Warn("batch response truncated", "parts", len(parts), "error", err)
	}

	byID := make(map[string][]batchPart, len(parts))
	for _, p := range parts {
		if !seen[p.contentID] {
			logger.Warn("ignoring batch part with unknown content id", "content_id", p.contentID)
			continue
		}
		byID[p.contentID] = append(byID[p.contentID], p)
	}

	for i := range results {
		item := &results[i]
		matched := byID[item.ContentID]
		switch {
		case len(matched) == 0:
			item.Err = &DecodeError{Err: fmt.Errorf("no response part for content id %q", item.ContentID)}
		case len(matched) > 1:
			item.Err = &DecodeError{Err: fmt.Errorf("%d response parts for content id %q", len(matched), item.ContentID)}
		case matched[0].err != nil:
			item.Err = &DecodeError{Err: matched[0].err}
		default:
			p := matched[0]
			req := item.Request.WithContentID(item.ContentID)
			raw := &rawResponse{
				statusCode: p.statusCode,
				status:     p.status,
				header:     p.header,
				body:       p.body,
			}
			if e.validator != nil {
				httpReq, err := req.HTTPRequest(ctx)
				if err != nil {
					item.Err = &DecodeError{Err: fmt.Errorf("rebuilding request for response validation: %w", err), Body: p.body}
					break
				}
				raw.httpReq = httpReq
			}
			item.Response, item.Err = e.finish(req, raw)
		}
		e.metrics.ObserveBatchItem(itemOutcome(item.Err))
	}
	logger.Debug("batch complete", "calls", len(reqs), "failed", len(results.Failed()))
	return results, nil
}

func (e *Executor) failAll(results BatchResults, err error, outcome string) BatchResults {
	for i := range results {
		results[i].Err = err
		e.metrics.ObserveBatchItem(outcome)
	}
	return results
}

func itemOutcome(err error) string {
	var httpErr *HTTPError
	var decodeErr *DecodeError
	switch {
	case err == nil:
		return metrics.ItemOK
	case errors.As(err, &httpErr):
		return metrics.ItemHTTPError
	case errors.As(err, &decodeErr):
		return metrics.ItemDecode
	}
	return metrics.ItemTransport
}
