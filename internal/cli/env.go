package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/kolah/disco/client"
	"github.com/kolah/disco/credentials"
	"github.com/kolah/disco/internal/cache"
	"github.com/kolah/disco/internal/config"
	"github.com/kolah/disco/internal/loader"
	"github.com/kolah/disco/openapi"
)

// env is what every command that talks to a service needs: the merged
// configuration, a logger and the loaded document.
type env struct {
	cmd    *cobra.Command
	cfg    *config.Config
	logger hclog.Logger
	http   *http.Client
	result *loader.Result
}

func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, err
	}
	e := &env{
		cmd:    cmd,
		cfg:    cfg,
		logger: newLogger(cfg.Log, cmd.ErrOrStderr()),
		http:   &http.Client{Timeout: cfg.Client.Timeout},
	}
	if err := e.load(cmd.Context()); err != nil {
		return nil, err
	}
	return e, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) hclog.Logger {
	if cfg.Level == "off" {
		return hclog.NewNullLogger()
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "disco",
		Level:      hclog.LevelFromString(cfg.Level),
		JSONFormat: cfg.JSON,
		Output:     w,
	})
}

func (e *env) load(ctx context.Context) error {
	if err := e.cfg.RequireDiscovery(); err != nil {
		return err
	}

	opts := []loader.Option{loader.WithLogger(e.logger), loader.WithHTTPClient(e.http)}
	if !e.cfg.Cache.Disabled {
		store, err := cache.Open(e.cfg.CachePath())
		if err != nil {
			e.logger.Warn("document cache unavailable", "path", e.cfg.CachePath(), "error", err)
		} else {
			defer store.Close()
			opts = append(opts, loader.WithCache(store, e.cfg.Cache.TTL))
		}
	}

	result, err := loader.New(opts...).Load(ctx, e.cfg.Discovery)
	if err != nil {
		return fmt.Errorf("loading discovery document: %w", err)
	}
	for _, w := range result.Warnings {
		e.cmd.PrintErrf("Warning: %s\n", w)
	}
	e.result = result
	return nil
}

// credentials builds a manager from the configured grant, or returns nil
// when no grant is configured and calls go out unauthenticated.
func (e *env) credentials() (*credentials.Manager, error) {
	auth := e.cfg.Auth
	if !auth.Configured() {
		return nil, nil
	}

	doc := e.result.Document
	cred := credentials.Credential{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		RefreshToken: auth.RefreshToken,
		TokenURL:     cmp.Or(auth.TokenURL, doc.TokenURL()),
		Scopes:       auth.Scopes,
		Subject:      auth.Subject,
	}
	if len(cred.Scopes) == 0 {
		cred.Scopes = doc.Scopes()
	}
	if auth.ServiceAccountFile != "" {
		key, err := credentials.LoadServiceAccountKey(auth.ServiceAccountFile)
		if err != nil {
			return nil, err
		}
		cred.ServiceAccount = key
	}
	if cred.TokenURL == "" && cred.ServiceAccount == nil {
		return nil, fmt.Errorf("no token endpoint: set auth.token-url or use a document that declares one")
	}

	return credentials.NewManager(cred,
		credentials.WithExpiryMargin(auth.ExpiryMargin),
		credentials.WithTransport(e.http),
		credentials.WithLogger(e.logger),
	), nil
}

func (e *env) client() (*client.Client, error) {
	opts := []client.Option{
		client.WithTransport(e.http),
		client.WithLogger(e.logger),
		client.WithRateLimit(rate.Limit(e.cfg.Client.RateLimit), e.cfg.Client.Burst),
	}
	if e.cfg.Client.BatchLimit > 0 {
		opts = append(opts, client.WithBatchLimit(e.cfg.Client.BatchLimit))
	}
	if e.cfg.Client.UserAgent != "" {
		opts = append(opts, client.WithUserAgent(e.cfg.Client.UserAgent))
	}
	if e.cfg.Client.Lenient {
		opts = append(opts, client.WithLenient())
	}

	if e.cfg.Client.ValidateResponses {
		if e.result.OpenAPI == nil {
			e.logger.Warn("response validation needs an OpenAPI document, skipping", "source", e.result.Source)
		} else {
			v, err := openapi.NewValidator(e.result.OpenAPI)
			if err != nil {
				return nil, err
			}
			opts = append(opts, client.WithResponseValidator(v))
		}
	}

	creds, err := e.credentials()
	if err != nil {
		return nil, err
	}
	if creds != nil {
		opts = append(opts, client.WithCredentials(creds))
	}

	return client.New(e.result.Document, opts...), nil
}
