package discovery

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildIsDeterministic(t *testing.T) {
	doc := loadInventory(t)
	m, ok := doc.Method("items.list")
	require.True(t, ok)

	args := Args{
		"tag":         []string{"b", "a", "c"},
		"maxResults":  50,
		"orderBy":     "name",
		"pageToken":   "tok en",
		"fields":      "items(id,name)",
		"prettyPrint": true,
	}
	v, err := doc.Validate(m, args)
	require.NoError(t, err)

	first := Build(doc, m, v)
	for i := 0; i < 20; i++ {
		again := Build(doc, m, v)
		require.Equal(t, first.Method(), again.Method())
		require.Equal(t, first.URL(), again.URL())
		require.Equal(t, first.Header(), again.Header())
		require.True(t, bytes.Equal(first.Body(), again.Body()))
	}

	ins, _ := doc.Method("items.insert")
	body := map[string]any{"name": "w", "tags": []string{"x", "y"}, "price": 1.5}
	v1, err := doc.Validate(ins, nil, WithBody(body))
	require.NoError(t, err)
	v2, err := doc.Validate(ins, nil, WithBody(body))
	require.NoError(t, err)
	require.Equal(t, Build(doc, ins, v1).Body(), Build(doc, ins, v2).Body())
}

func TestRequestIsImmutable(t *testing.T) {
	doc := loadInventory(t)
	req, err := doc.Resolve("items.insert", nil, WithBody(map[string]any{"name": "w"}))
	require.NoError(t, err)

	h := req.Header()
	h.Set("Content-Type", "text/plain")
	require.Equal(t, "application/json", req.Header().Get("Content-Type"))

	b := req.Body()
	b[0] = 'X'
	require.Equal(t, byte('{'), req.Body()[0])

	tagged := req.WithContentID("item-1")
	require.Equal(t, "item-1", tagged.ContentID())
	require.Empty(t, req.ContentID())
	require.Same(t, req.Call(), tagged.Call())

	withUA := req.WithHeader("User-Agent", "disco-test")
	require.Equal(t, "disco-test", withUA.Header().Get("User-Agent"))
	require.Empty(t, req.Header().Get("User-Agent"))
}

func TestRequestHTTPRequest(t *testing.T) {
	req := NewRequest("post", "https://example.com/a?b=c", http.Header{"X-Test": {"1"}}, []byte(`{"a":1}`))
	require.Equal(t, "POST", req.Method())
	require.Nil(t, req.Call())
	require.Empty(t, req.MethodPath())

	httpReq, err := req.HTTPRequest(context.Background())
	require.NoError(t, err)
	require.Equal(t, "POST", httpReq.Method)
	require.Equal(t, "/a", httpReq.URL.Path)
	require.Equal(t, "1", httpReq.Header.Get("X-Test"))
	require.EqualValues(t, 7, httpReq.ContentLength)

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(body))

	again, err := httpReq.GetBody()
	require.NoError(t, err)
	body, err = io.ReadAll(again)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(body))
}

func TestBuildMediaUpload(t *testing.T) {
	doc := loadInventory(t)

	t.Run("simple", func(t *testing.T) {
		req, err := doc.Resolve("items.insert", nil, WithMedia("image/png", []byte("PNGDATA")))
		require.NoError(t, err)
		require.Equal(t, "https://inventory.example.com/upload/inventory/v1/items?uploadType=media", req.URL())
		require.Equal(t, "image/png", req.Header().Get("Content-Type"))
		require.Equal(t, "PNGDATA", string(req.Body()))
	})

	t.Run("multipart", func(t *testing.T) {
		req, err := doc.Resolve("items.insert", nil,
			WithBody(map[string]any{"name": "photo"}),
			WithMedia("image/jpeg", []byte("JPEGDATA")),
		)
		require.NoError(t, err)
		require.Equal(t, "https://inventory.example.com/upload/inventory/v1/items?uploadType=multipart", req.URL())

		mediaType, params, err := mime.ParseMediaType(req.Header().Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/related", mediaType)

		r := multipart.NewReader(bytes.NewReader(req.Body()), params["boundary"])
		meta, err := r.NextPart()
		require.NoError(t, err)
		require.Equal(t, "application/json; charset=UTF-8", meta.Header.Get("Content-Type"))
		data, err := io.ReadAll(meta)
		require.NoError(t, err)
		require.JSONEq(t, `{"name":"photo"}`, string(data))

		media, err := r.NextPart()
		require.NoError(t, err)
		require.Equal(t, "image/jpeg", media.Header.Get("Content-Type"))
		data, err = io.ReadAll(media)
		require.NoError(t, err)
		require.Equal(t, "JPEGDATA", string(data))

		_, err = r.NextPart()
		require.ErrorIs(t, err, io.EOF)
	})
}

func TestBuildMediaUploadBoundaryInData(t *testing.T) {
	doc := loadInventory(t)
	data := []byte("head\r\n--" + mediaBoundary + "\r\nContent-Type: image/png\r\n\r\ninjected")

	build := func() *Request {
		req, err := doc.Resolve("items.insert", nil,
			WithBody(map[string]any{"name": "photo"}),
			WithMedia("image/png", data),
		)
		require.NoError(t, err)
		return req
	}
	req := build()
	require.Equal(t, req.Body(), build().Body())
	require.Equal(t, req.Header(), build().Header())

	_, params, err := mime.ParseMediaType(req.Header().Get("Content-Type"))
	require.NoError(t, err)
	require.NotContains(t, string(data), params["boundary"])

	r := multipart.NewReader(bytes.NewReader(req.Body()), params["boundary"])
	_, err = r.NextPart()
	require.NoError(t, err)
	media, err := r.NextPart()
	require.NoError(t, err)
	got, err := io.ReadAll(media)
	require.NoError(t, err)
	require.Equal(t, data, got)

	_, err = r.NextPart()
	require.ErrorIs(t, err, io.EOF)
}

func TestAcceptsType(t *testing.T) {
	require.True(t, acceptsType([]string{"image/*"}, "image/png"))
	require.True(t, acceptsType([]string{"*/*"}, "application/pdf; charset=binary"))
	require.True(t, acceptsType([]string{"text/csv", "application/json"}, "application/json"))
	require.False(t, acceptsType([]string{"image/*"}, "video/mp4"))
	require.False(t, acceptsType([]string{"image/*"}, "not a type"))
}
