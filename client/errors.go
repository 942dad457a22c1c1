package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// TransportError reports that the request never produced an HTTP response.
// Callers may retry it.
type TransportError struct {
	Err    error
	Method string
	URL    string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response. Message, Reason and Details are filled
// from a structured error body when the server sends one.
type HTTPError struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Message    string
	Reason     string
	Details    []ErrorDetail
	RequestID  string
}

// ErrorDetail is one entry of the "errors" list in an error body.
type ErrorDetail struct {
	Domain       string `json:"domain,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Message      string `json:"message,omitempty"`
	Location     string `json:"location,omitempty"`
	LocationType string `json:"locationType,omitempty"`
}

func (e *HTTPError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "http error %d", e.StatusCode)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if text := http.StatusText(e.StatusCode); text != "" {
		fmt.Fprintf(&b, ": %s", text)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " [request id %s]", e.RequestID)
	}
	return b.String()
}

var requestIDHeaders = []string{"X-Request-Id", "X-Goog-Request-Id", "X-Guploader-Uploadid"}

func newHTTPError(status int, statusText string, header http.Header, body []byte) *HTTPError {
	e := &HTTPError{
		StatusCode: status,
		Status:     statusText,
		Header:     header,
		Body:       body,
	}
	for _, h := range requestIDHeaders {
		if id := header.Get(h); id != "" {
			e.RequestID = id
			break
		}
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return e
	}

	var detail struct {
		Code    int           `json:"code"`
		Message string        `json:"message"`
		Status  string        `json:"status"`
		Errors  []ErrorDetail `json:"errors"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err != nil {
		// Some endpoints send {"error": "code", "error_description": "..."}.
		var code string
		if json.Unmarshal(envelope.Error, &code) == nil {
			e.Reason = code
		}
		return e
	}
	e.Message = detail.Message
	e.Details = detail.Errors
	e.Reason = detail.Status
	if e.Reason == "" && len(detail.Errors) > 0 {
		e.Reason = detail.Errors[0].Reason
	}
	return e
}

// DecodeError reports a response body that could not be decoded or does not
// match the declared response schema.
type DecodeError struct {
	Err  error
	Body []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
