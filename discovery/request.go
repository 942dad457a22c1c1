package discovery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// Request is a fully resolved HTTP request. It is immutable; the With*
// methods return modified copies.
type Request struct {
	method    string
	url       string
	header    http.Header
	body      []byte
	call      *Method
	response  *Schema
	contentID string
	download  bool
}

// NewRequest builds a request that did not come from a discovery method,
// for example a raw call placed inside a batch.
func NewRequest(method, rawURL string, header http.Header, body []byte) *Request {
	if header == nil {
		header = make(http.Header)
	}
	return &Request{
		method: strings.ToUpper(method),
		url:    rawURL,
		header: header.Clone(),
		body:   slices.Clone(body),
	}
}

func (r *Request) Method() string { return r.method }
func (r *Request) URL() string    { return r.url }

// Header returns a copy of the request header.
func (r *Request) Header() http.Header { return r.header.Clone() }

// Body returns a copy of the request body.
func (r *Request) Body() []byte { return slices.Clone(r.body) }

// Call returns the method descriptor the request was built from, or nil.
func (r *Request) Call() *Method { return r.call }

// ResponseSchema returns the declared response schema, or nil.
func (r *Request) ResponseSchema() *Schema { return r.response }

// ContentID returns the caller-chosen batch correlation id, if any.
func (r *Request) ContentID() string { return r.contentID }

// MediaDownload reports whether the response is raw media rather than JSON.
func (r *Request) MediaDownload() bool { return r.download }

// MethodPath returns the dotted method path, or "" for raw requests.
func (r *Request) MethodPath() string {
	if r.call == nil {
		return ""
	}
	return r.call.FullName
}

// WithContentID returns a copy carrying the given batch correlation id.
func (r *Request) WithContentID(id string) *Request {
	c := r.clone()
	c.contentID = id
	return c
}

// WithHeader returns a copy with the header key set to value.
func (r *Request) WithHeader(key, value string) *Request {
	c := r.clone()
	c.header.Set(key, value)
	return c
}

func (r *Request) clone() *Request {
	c := *r
	c.header = r.header.Clone()
	c.body = slices.Clone(r.body)
	return &c
}

// HTTPRequest converts the request into an *http.Request bound to ctx.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(r.body) > 0 {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, err
	}
	req.Header = r.header.Clone()
	if len(r.body) > 0 {
		data := r.body
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}
	return req, nil
}

// Build assembles the request for a validated call. It is pure: identical
// inputs produce byte-identical requests.
func Build(d *Document, m *Method, v *Validated) *Request {
	base, template := d.BaseURL, m.Path
	if v.Media != nil && m.MediaUpload != nil && m.MediaUpload.Protocols != nil && m.MediaUpload.Protocols.Simple != nil {
		base, template = d.RootURL, m.MediaUpload.Protocols.Simple.Path
	} else if v.MediaDownload && m.UseMediaDownloadService {
		base = joinURL(d.RootURL, "download/"+strings.TrimLeft(d.ServicePath, "/"))
	}

	query := make(url.Values, len(v.Query)+2)
	for k, vals := range v.Query {
		query[k] = slices.Clone(vals)
	}

	header := make(http.Header)
	body := slices.Clone(v.Body)
	switch {
	case v.Media != nil && len(v.Body) > 0:
		query.Set("uploadType", "multipart")
		var boundary string
		body, boundary = multipartRelated(v.Body, v.Media)
		header.Set("Content-Type", "multipart/related; boundary="+boundary)
	case v.Media != nil:
		query.Set("uploadType", "media")
		body = slices.Clone(v.Media.Data)
		header.Set("Content-Type", v.Media.ContentType)
	case len(v.Body) > 0:
		header.Set("Content-Type", "application/json")
	}
	if v.MediaDownload {
		query.Set("alt", "media")
	}

	u := joinURL(base, expandPath(template, v.Path))
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}

	return &Request{
		method:   m.HTTPMethod,
		url:      u,
		header:   header,
		body:     body,
		call:     m,
		response: m.Response,
		download: v.MediaDownload,
	}
}

// expandPath substitutes {name} with the percent-encoded value and {+name}
// with a reserved expansion that keeps "/" separators.
func expandPath(template string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		value := values[sub[2]]
		if sub[1] != "+" {
			return url.PathEscape(value)
		}
		segments := strings.Split(value, "/")
		for i, s := range segments {
			segments[i] = url.PathEscape(s)
		}
		return strings.Join(segments, "/")
	})
}
