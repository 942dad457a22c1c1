package client

import (
	"encoding/json"
	"net/http"
)

// Response is a successful reply. Data holds the decoded JSON body, with
// numbers as json.Number; it is nil for empty bodies and media downloads.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Data       any
	// ContentID is set for responses that arrived inside a batch.
	ContentID string
}

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &DecodeError{Err: err, Body: r.Body}
	}
	return nil
}
