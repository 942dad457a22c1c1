package discovery

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path"
	"strconv"
	"strings"
)

// mediaBoundary prefixes multipart upload boundaries. The suffix is derived
// from the content, so the same upload always gets the same boundary.
const mediaBoundary = "disco_media_upload_boundary"

var sizeUnits = map[string]int64{
	"":   1,
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// parseSize reads maxSize values such as "5MB" or "1024".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i == -1 {
		i = len(s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("size %q: %w", s, err)
	}
	unit, ok := sizeUnits[strings.TrimSpace(s[i:])]
	if !ok {
		return 0, fmt.Errorf("size %q: unknown unit", s)
	}
	return n * unit, nil
}

func checkMedia(m *Method, media *Media) error {
	if !m.SupportsMediaUpload || m.MediaUpload == nil || m.MediaUpload.Protocols == nil || m.MediaUpload.Protocols.Simple == nil {
		return &ValidationError{Method: m.FullName, Param: "media", Reason: "method does not support media upload"}
	}
	if media.ContentType == "" {
		return &ValidationError{Method: m.FullName, Param: "media", Reason: "content type is required"}
	}
	if m.MediaUpload.MaxSize != "" {
		limit, err := parseSize(m.MediaUpload.MaxSize)
		if err == nil && int64(len(media.Data)) > limit {
			return &ValidationError{Method: m.FullName, Param: "media", Reason: fmt.Sprintf("media is %d bytes, limit is %s", len(media.Data), m.MediaUpload.MaxSize)}
		}
	}
	if len(m.MediaUpload.Accept) > 0 && !acceptsType(m.MediaUpload.Accept, media.ContentType) {
		return &ValidationError{Method: m.FullName, Param: "media", Reason: fmt.Sprintf("content type %q is not accepted", media.ContentType)}
	}
	return nil
}

func acceptsType(accept []string, contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, pattern := range accept {
		if ok, _ := path.Match(strings.ToLower(pattern), mediaType); ok {
			return true
		}
	}
	return false
}

// multipartRelated wraps JSON metadata and the media payload into a
// multipart/related body and returns it with its boundary.
func multipartRelated(metadata []byte, media *Media) ([]byte, string) {
	boundary := contentBoundary(metadata, media.Data)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	// contentBoundary yields at most 70 valid characters, SetBoundary cannot fail.
	_ = w.SetBoundary(boundary)

	meta, _ := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	_, _ = meta.Write(metadata)
	part, _ := w.CreatePart(textproto.MIMEHeader{"Content-Type": {media.ContentType}})
	_, _ = part.Write(media.Data)
	_ = w.Close()
	return buf.Bytes(), boundary
}

// contentBoundary hashes the parts into a boundary that neither part contains.
func contentBoundary(metadata, data []byte) string {
	for salt := 0; ; salt++ {
		h := sha256.New()
		fmt.Fprintf(h, "%d:", salt)
		h.Write(metadata)
		h.Write(data)
		boundary := mediaBoundary + "_" + hex.EncodeToString(h.Sum(nil)[:16])
		if !bytes.Contains(metadata, []byte(boundary)) && !bytes.Contains(data, []byte(boundary)) {
			return boundary
		}
	}
}
