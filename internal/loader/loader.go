// Package loader fetches API description documents from files or URLs,
// detects their format and turns them into discovery documents.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"go.yaml.in/yaml/v4"

	"github.com/kolah/disco/discovery"
	"github.com/kolah/disco/internal/cache"
	"github.com/kolah/disco/openapi"
)

// DirectoryURL is the public discovery directory used for "name:version"
// shorthands.
const DirectoryURL = "https://www.googleapis.com/discovery/v1/apis"

type Format string

const (
	FormatDiscovery Format = "discovery"
	FormatOpenAPI   Format = "openapi"
)

type Result struct {
	Document  *discovery.Document
	Format    Format
	Source    string
	OpenAPI   *openapi.Spec
	Warnings  []string
	FromCache bool
}

type Loader struct {
	cache     *cache.Store
	ttl       time.Duration
	client    *http.Client
	logger    hclog.Logger
	directory string
	now       func() time.Time
	backoff   func() backoff.BackOff
}

type Option func(*Loader)

// WithCache keeps fetched documents in store for ttl before revalidating.
func WithCache(store *cache.Store, ttl time.Duration) Option {
	return func(l *Loader) {
		l.cache = store
		l.ttl = ttl
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

func WithLogger(logger hclog.Logger) Option {
	return func(l *Loader) { l.logger = logger.Named("loader") }
}

// WithDirectory overrides the directory that "name:version" sources resolve
// against.
func WithDirectory(base string) Option {
	return func(l *Loader) { l.directory = strings.TrimRight(base, "/") }
}

func WithBackOff(policy func() backoff.BackOff) Option {
	return func(l *Loader) { l.backoff = policy }
}

func New(opts ...Option) *Loader {
	l := &Loader{
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    hclog.NewNullLogger(),
		directory: DirectoryURL,
		now:       time.Now,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			return backoff.WithMaxRetries(b, 3)
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var shorthand = regexp.MustCompile(`^([a-z][a-z0-9]*):(v[0-9][a-z0-9._]*)$`)

// Load reads source, which may be a file path, an http(s) URL or a
// "name:version" directory shorthand.
func (l *Loader) Load(ctx context.Context, source string) (*Result, error) {
	if m := shorthand.FindStringSubmatch(source); m != nil {
		if _, err := os.Stat(source); err != nil {
			source = fmt.Sprintf("%s/%s/%s/rest", l.directory, m[1], m[2])
		}
	}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, fromCache, err := l.fetch(ctx, source)
		if err != nil {
			return nil, err
		}
		result, err := parse(data, "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		result.Source = source
		result.FromCache = fromCache
		return result, nil
	}

	return LoadFile(source)
}

// LoadFile reads and parses a document from disk.
func LoadFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	result, err := parse(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	result.Source = path
	return result, nil
}

// Parse detects the format of data and parses it.
func Parse(data []byte) (*Result, error) {
	return parse(data, "")
}

func parse(data []byte, path string) (*Result, error) {
	format, err := Detect(data)
	if err != nil {
		return nil, err
	}

	result := &Result{Format: format}
	switch format {
	case FormatOpenAPI:
		var spec *openapi.Spec
		if path != "" {
			spec, err = openapi.LoadFile(path)
		} else {
			spec, err = openapi.Load(data)
		}
		if err != nil {
			return nil, err
		}
		doc, err := openapi.Convert(spec)
		if err != nil {
			return nil, err
		}
		result.OpenAPI = spec
		result.Document = doc
		result.Warnings = spec.Warnings
	default:
		doc, err := discovery.Parse(data)
		if err != nil {
			return nil, err
		}
		result.Document = doc
	}
	return result, nil
}

// Detect tells discovery documents from OpenAPI ones by their top-level
// keys.
func Detect(data []byte) (Format, error) {
	var top map[string]any
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		if err := json.Unmarshal(data, &top); err != nil {
			return "", fmt.Errorf("decoding JSON document: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &top); err != nil {
		return "", fmt.Errorf("document is neither JSON nor YAML: %w", err)
	}
	if _, ok := top["openapi"]; ok {
		return FormatOpenAPI, nil
	}
	if _, ok := top["swagger"]; ok {
		return "", errors.New("swagger 2.0 documents are not supported")
	}
	_, hasRoot := top["rootUrl"]
	_, hasVersion := top["discoveryVersion"]
	if hasRoot || hasVersion {
		return FormatDiscovery, nil
	}
	return "", errors.New("unrecognised document: expected a discovery document or OpenAPI 3.x")
}

// fetch returns the document at url, serving it from the cache while fresh
// and revalidating with If-None-Match once stale. A stale entry is still
// served when the network fails.
func (l *Loader) fetch(ctx context.Context, url string) ([]byte, bool, error) {
	var cached *cache.Entry
	if l.cache != nil {
		entry, err := l.cache.Get(url)
		if err != nil {
			l.logger.Warn("cache read failed", "source", url, "error", err)
		}
		cached = entry
	}
	if cached != nil && cached.Fresh(l.ttl, l.now()) {
		l.logger.Debug("serving cached document", "source", url)
		return cached.Data, true, nil
	}

	etag := ""
	if cached != nil {
		etag = cached.ETag
	}

	resp, err := backoff.RetryWithData(func() (*fetched, error) {
		return l.get(ctx, url, etag)
	}, backoff.WithContext(l.backoff(), ctx))
	if err != nil {
		if cached != nil {
			l.logger.Warn("fetch failed, serving stale document", "source", url, "error", err)
			return cached.Data, true, nil
		}
		return nil, false, err
	}

	if resp.notModified && cached != nil {
		l.logger.Debug("document not modified", "source", url)
		if err := l.cache.Touch(url, l.now()); err != nil {
			l.logger.Warn("cache update failed", "source", url, "error", err)
		}
		return cached.Data, true, nil
	}

	if l.cache != nil {
		err := l.cache.Put(&cache.Entry{Source: url, Data: resp.body, ETag: resp.etag, FetchedAt: l.now()})
		if err != nil {
			l.logger.Warn("cache write failed", "source", url, "error", err)
		}
	}
	l.logger.Info("fetched document", "source", url, "bytes", len(resp.body))
	return resp.body, false, nil
}

type fetched struct {
	body        []byte
	etag        string
	notModified bool
}

func (l *Loader) get(ctx context.Context, url, etag string) (*fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &fetched{notModified: true}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("fetching %s: %s", url, resp.Status)
	case resp.StatusCode >= 300:
		return nil, backoff.Permanent(fmt.Errorf("fetching %s: %s: %s", url, resp.Status, bytes.TrimSpace(body)))
	}
	return &fetched{body: body, etag: resp.Header.Get("ETag")}, nil
}

// DefaultCachePath returns the cache database location under the user cache
// directory.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "disco", "documents.db")
}
