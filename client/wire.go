package client

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/kolah/disco/discovery"
)

const responseIDPrefix = "response-"

// encodeBatch frames each request as an application/http part of a
// multipart/mixed body. It returns the body and its Content-Type.
func encodeBatch(boundary string, ids []string, reqs []*discovery.Request) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, "", fmt.Errorf("batch boundary: %w", err)
	}
	for i, req := range reqs {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "application/http")
		h.Set("Content-Transfer-Encoding", "binary")
		h.Set("Content-ID", "<"+ids[i]+">")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if err := writeHTTPRequest(part, req); err != nil {
			return nil, "", fmt.Errorf("encoding batch part %s: %w", ids[i], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + boundary, nil
}

// writeHTTPRequest writes the textual form of req: the request line with a
// host-relative target, headers in sorted order, a blank line and the body.
func writeHTTPRequest(w io.Writer, req *discovery.Request) error {
	u, err := url.Parse(req.URL())
	if err != nil {
		return err
	}
	header := req.Header()
	body := req.Body()
	if len(body) > 0 {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method(), u.RequestURI())
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range header[k] {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	b.Write(body)
	_, err = w.Write(b.Bytes())
	return err
}

// batchPart is one decoded response part. err is set when the part could
// not be parsed; the remaining fields are then unreliable.
type batchPart struct {
	contentID  string
	statusCode int
	status     string
	header     http.Header
	body       []byte
	err        error
}

// decodeBatch splits a multipart batch response into its parts.
func decodeBatch(contentType string, body []byte) ([]batchPart, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("batch response content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("batch response has content type %q, want multipart", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.New("batch response has no multipart boundary")
	}

	var parts []batchPart
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return parts, fmt.Errorf("reading batch part: %w", err)
		}
		data, err := io.ReadAll(p)
		part := batchPart{contentID: parseContentID(p.Header.Get("Content-ID"))}
		if err != nil {
			part.err = fmt.Errorf("reading batch part: %w", err)
		} else {
			part.statusCode, part.status, part.header, part.body, part.err = readHTTPResponse(data)
		}
		parts = append(parts, part)
	}
}

// readHTTPResponse parses the textual form of a response: a status line,
// headers, a blank line and the body.
func readHTTPResponse(data []byte) (int, string, http.Header, []byte, error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(data)))
	line, err := r.ReadLine()
	if err != nil {
		return 0, "", nil, nil, fmt.Errorf("reading status line: %w", err)
	}
	proto, rest, _ := strings.Cut(line, " ")
	if !strings.HasPrefix(proto, "HTTP/") {
		return 0, "", nil, nil, fmt.Errorf("malformed status line %q", line)
	}
	code, _, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 || status > 999 {
		return 0, "", nil, nil, fmt.Errorf("malformed status code in %q", line)
	}

	mh, err := r.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, "", nil, nil, fmt.Errorf("reading headers: %w", err)
	}
	header := http.Header(mh)
	if header == nil {
		header = make(http.Header)
	}

	body, err := io.ReadAll(r.R)
	if err != nil {
		return 0, "", nil, nil, fmt.Errorf("reading body: %w", err)
	}
	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil && n >= 0 && n < len(body) {
			body = body[:n]
		}
	}
	return status, strings.TrimSpace(rest), header, body, nil
}

// parseContentID strips the angle brackets and the response prefix servers
// add to echoed ids.
func parseContentID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimPrefix(id, responseIDPrefix)
}
