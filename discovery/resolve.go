package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
)

// CallOption adjusts how a single call is resolved.
type CallOption func(*callOptions)

type callOptions struct {
	body     any
	hasBody  bool
	media    *Media
	download bool
	lenient  bool
}

// Media is an upload payload attached to a call.
type Media struct {
	ContentType string
	Data        []byte
}

// WithBody attaches a JSON request body. Values of type []byte and
// json.RawMessage are sent as-is after a syntax check; anything else is
// marshalled with encoding/json.
func WithBody(v any) CallOption {
	return func(o *callOptions) {
		o.body = v
		o.hasBody = true
	}
}

// WithMedia attaches an upload payload to a method that supports media upload.
func WithMedia(contentType string, data []byte) CallOption {
	return func(o *callOptions) {
		o.media = &Media{ContentType: contentType, Data: data}
	}
}

// WithMediaDownload requests the raw media representation (alt=media).
func WithMediaDownload() CallOption {
	return func(o *callOptions) {
		o.download = true
	}
}

// Lenient ignores argument keys the method does not declare instead of
// rejecting them.
func Lenient() CallOption {
	return func(o *callOptions) {
		o.lenient = true
	}
}

// Validated holds arguments that passed validation, already converted to
// their wire form.
type Validated struct {
	Path          map[string]string
	Query         url.Values
	Body          []byte
	Media         *Media
	MediaDownload bool
}

// Resolve looks up the method at the dotted path, validates args against it
// and builds the request.
func Resolve(doc *Document, path string, args Args, opts ...CallOption) (*Request, error) {
	return doc.Resolve(path, args, opts...)
}

func (d *Document) Resolve(path string, args Args, opts ...CallOption) (*Request, error) {
	m, ok := d.Method(path)
	if !ok {
		return nil, &NotFoundError{Path: path}
	}
	v, err := d.Validate(m, args, opts...)
	if err != nil {
		return nil, err
	}
	return Build(d, m, v), nil
}

// Validate checks args and options against the method and returns their wire
// form. The first violation is returned as a *ValidationError.
func (d *Document) Validate(m *Method, args Args, opts ...CallOption) (*Validated, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	v := &Validated{
		Path:  make(map[string]string),
		Query: make(url.Values),
	}
	consumed := make(map[string]bool, len(args))

	for _, p := range d.parameterSequence(m) {
		consumed[p.Name] = true
		raw, present := args[p.Name]
		if !present || raw == nil {
			if p.Required || p.Location == LocationPath {
				return nil, &ValidationError{Method: m.FullName, Param: p.Name, Reason: "required parameter is missing"}
			}
			continue
		}
		values, reason := p.encode(raw)
		if reason != "" {
			return nil, &ValidationError{Method: m.FullName, Param: p.Name, Reason: reason}
		}
		if p.Location == LocationPath {
			if len(values) != 1 {
				return nil, &ValidationError{Method: m.FullName, Param: p.Name, Reason: "path parameter takes exactly one value"}
			}
			if values[0] == "" {
				return nil, &ValidationError{Method: m.FullName, Param: p.Name, Reason: "path parameter must not be empty"}
			}
			v.Path[p.Name] = values[0]
			continue
		}
		if len(values) > 0 {
			v.Query[p.Name] = values
		}
	}

	if !o.lenient {
		for _, key := range sortedKeys(args) {
			if !consumed[key] {
				return nil, &ValidationError{Method: m.FullName, Param: key, Reason: "unknown parameter"}
			}
		}
	}

	if o.hasBody {
		body, err := d.encodeBody(m, o.body)
		if err != nil {
			return nil, err
		}
		v.Body = body
	}
	if o.media != nil {
		if err := checkMedia(m, o.media); err != nil {
			return nil, err
		}
		v.Media = o.media
	}
	if o.download {
		if !m.SupportsMediaDownload {
			return nil, &ValidationError{Method: m.FullName, Param: "alt", Reason: "method does not support media download"}
		}
		if o.media != nil {
			return nil, &ValidationError{Method: m.FullName, Param: "alt", Reason: "media download cannot be combined with an upload"}
		}
		v.MediaDownload = true
	}
	return v, nil
}

// parameterSequence yields method parameters in parameterOrder, then the
// remaining method parameters sorted, then global parameters sorted. Global
// parameters shadowed by a method parameter are skipped.
func (d *Document) parameterSequence(m *Method) []*Parameter {
	seq := make([]*Parameter, 0, len(m.Parameters)+len(d.Parameters))
	seen := make(map[string]bool, len(m.Parameters))
	for _, name := range m.ParameterOrder {
		if p, ok := m.Parameters[name]; ok && !seen[name] {
			seen[name] = true
			seq = append(seq, p)
		}
	}
	for _, name := range sortedKeys(m.Parameters) {
		if !seen[name] {
			seen[name] = true
			seq = append(seq, m.Parameters[name])
		}
	}
	for _, name := range sortedKeys(d.Parameters) {
		if !seen[name] {
			seq = append(seq, d.Parameters[name])
		}
	}
	return seq
}

func (d *Document) encodeBody(m *Method, body any) ([]byte, error) {
	if m.Request == nil {
		return nil, &ValidationError{Method: m.FullName, Param: "body", Reason: "method does not accept a request body"}
	}

	var data []byte
	switch b := body.(type) {
	case []byte:
		data = b
	case json.RawMessage:
		data = b
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &ValidationError{Method: m.FullName, Param: "body", Reason: fmt.Sprintf("encoding body: %v", err)}
		}
		data = encoded
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, &ValidationError{Method: m.FullName, Param: "body", Reason: fmt.Sprintf("body is not valid JSON: %v", err)}
	}
	if err := d.CheckValue(m.Request, decoded); err != nil {
		return nil, &ValidationError{Method: m.FullName, Param: "body", Reason: err.Error()}
	}
	return slices.Clone(data), nil
}
