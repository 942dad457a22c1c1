package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// DefaultFile is read from the working directory when no --config is given.
const DefaultFile = "disco.yaml"

type Config struct {
	Discovery string         `koanf:"discovery"`
	Cache     CacheConfig    `koanf:"cache"`
	Auth      AuthConfig     `koanf:"auth"`
	Client    ClientConfig   `koanf:"client"`
	Log       LogConfig      `koanf:"log"`
	Generate  GenerateConfig `koanf:"generate"`
}

type CacheConfig struct {
	Dir      string        `koanf:"dir"`
	Disabled bool          `koanf:"disabled"`
	TTL      time.Duration `koanf:"ttl" validate:"gte=0"`
}

type AuthConfig struct {
	ClientID           string        `koanf:"client-id" validate:"required_with=ClientSecret RefreshToken"`
	ClientSecret       string        `koanf:"client-secret"`
	RefreshToken       string        `koanf:"refresh-token"`
	TokenURL           string        `koanf:"token-url" validate:"omitempty,url"`
	Scopes             []string      `koanf:"scopes"`
	ServiceAccountFile string        `koanf:"service-account-file"`
	Subject            string        `koanf:"subject" validate:"omitempty,email"`
	ExpiryMargin       time.Duration `koanf:"expiry-margin" validate:"gte=0"`
}

// Configured reports whether any grant is available.
func (a AuthConfig) Configured() bool {
	return a.RefreshToken != "" || a.ServiceAccountFile != "" || (a.ClientID != "" && a.ClientSecret != "")
}

type ClientConfig struct {
	BatchLimit        int           `koanf:"batch-limit" validate:"gte=0,lte=1000"`
	RateLimit         float64       `koanf:"rate-limit" validate:"gte=0"`
	Burst             int           `koanf:"burst" validate:"gte=0"`
	Timeout           time.Duration `koanf:"timeout" validate:"gte=0"`
	Lenient           bool          `koanf:"lenient"`
	ValidateResponses bool          `koanf:"validate-responses"`
	UserAgent         string        `koanf:"user-agent"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=trace debug info warn error off"`
	JSON  bool   `koanf:"json"`
}

type GenerateConfig struct {
	OutputDir    string   `koanf:"output-dir"`
	Package      string   `koanf:"package"`
	TemplatesDir string   `koanf:"templates-dir"`
	Initialisms  []string `koanf:"initialisms"`
}

func defaults() map[string]any {
	return map[string]any{
		"cache.dir":          defaultCacheDir(),
		"cache.ttl":          "24h",
		"auth.expiry-margin": "60s",
		"client.batch-limit": 1000,
		"client.timeout":     "60s",
		"log.level":          "warn",
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "disco")
}

// BindFlags binds the flags shared by every command.
func BindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringP("config", "c", "", "Config file path (default: disco.yaml)")
	flags.StringP("discovery", "d", "", "Discovery document: file, URL or name:version")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error, off")
	flags.Bool("log-json", false, "Log as JSON")

	flags.Bool("no-cache", false, "Do not cache fetched documents")
	flags.String("cache-dir", "", "Document cache directory")

	flags.String("client-id", "", "OAuth2 client id")
	flags.String("client-secret", "", "OAuth2 client secret")
	flags.String("refresh-token", "", "OAuth2 refresh token")
	flags.String("token-url", "", "OAuth2 token endpoint")
	flags.StringSlice("scopes", nil, "OAuth2 scopes")
	flags.String("service-account", "", "Service account key file")
	flags.String("subject", "", "User to impersonate with a service account")

	flags.Bool("lenient", false, "Pass unknown parameters through as query parameters")
	flags.Float64("rate-limit", 0, "Maximum requests per second (0 disables)")
	flags.Int("batch-limit", 0, "Maximum calls per batch")
	flags.Bool("validate-responses", false, "Validate responses against the OpenAPI document")
}

// Load merges defaults, the config file and flags, in that order.
func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		configFile, _ = cmd.PersistentFlags().GetString("config")
	}
	if configFile == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			configFile = DefaultFile
		}
	}

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	flagsMap := buildFlagsMap(cmd)
	if len(flagsMap) > 0 {
		if err := k.Load(confmap.Provider(flagsMap, "."), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func buildFlagsMap(cmd *cobra.Command) map[string]any {
	m := make(map[string]any)

	// Inherited persistent flags only reach cmd.Flags() once cobra parses
	// them, so fall back to the persistent set.
	set := func(name string) *pflag.FlagSet {
		if cmd.Flags().Lookup(name) != nil {
			return cmd.Flags()
		}
		return cmd.PersistentFlags()
	}

	getString := func(name string) string {
		if v, err := set(name).GetString(name); err == nil && v != "" {
			return v
		}
		return ""
	}

	getStringSlice := func(name string) []string {
		if v, err := set(name).GetStringSlice(name); err == nil && len(v) > 0 {
			return v
		}
		return nil
	}

	flagChanged := func(name string) bool {
		return set(name).Changed(name)
	}

	stringFlags := map[string]string{
		"discovery":       "discovery",
		"log-level":       "log.level",
		"cache-dir":       "cache.dir",
		"client-id":       "auth.client-id",
		"client-secret":   "auth.client-secret",
		"refresh-token":   "auth.refresh-token",
		"token-url":       "auth.token-url",
		"service-account": "auth.service-account-file",
		"subject":         "auth.subject",
		"output-dir":      "generate.output-dir",
		"package":         "generate.package",
		"templates-dir":   "generate.templates-dir",
	}
	for flag, key := range stringFlags {
		if v := getString(flag); v != "" {
			m[key] = v
		}
	}

	if v := getStringSlice("scopes"); len(v) > 0 {
		m["auth.scopes"] = v
	}
	if v := getStringSlice("additional-initialisms"); len(v) > 0 {
		m["generate.initialisms"] = v
	}

	boolFlags := map[string]string{
		"log-json":           "log.json",
		"no-cache":           "cache.disabled",
		"lenient":            "client.lenient",
		"validate-responses": "client.validate-responses",
	}
	for flag, key := range boolFlags {
		if flagChanged(flag) {
			v, _ := set(flag).GetBool(flag)
			m[key] = v
		}
	}

	if flagChanged("rate-limit") {
		v, _ := set("rate-limit").GetFloat64("rate-limit")
		m["client.rate-limit"] = v
	}
	if flagChanged("batch-limit") {
		v, _ := set("batch-limit").GetInt("batch-limit")
		m["client.batch-limit"] = v
	}

	return m
}

var validate = validator.New()

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validate.Struct(c); err != nil {
		var valErrs validator.ValidationErrors
		if !errors.As(err, &valErrs) {
			return err
		}
		for _, ve := range valErrs {
			result = multierror.Append(result, fmt.Errorf("%s: %s", ve.Namespace(), formatValidationError(ve)))
		}
	}

	if c.Auth.Subject != "" && c.Auth.ServiceAccountFile == "" {
		result = multierror.Append(result, errors.New("auth.subject requires auth.service-account-file"))
	}
	if c.Client.Burst > 0 && c.Client.RateLimit == 0 {
		result = multierror.Append(result, errors.New("client.burst requires client.rate-limit"))
	}

	return result.ErrorOrNil()
}

// RequireDiscovery fails when no document source is configured.
func (c *Config) RequireDiscovery() error {
	if c.Discovery == "" {
		return fmt.Errorf("discovery document is required (--discovery or discovery: in %s)", DefaultFile)
	}
	return nil
}

// ValidateGenerate checks the settings code generation needs.
func (c *Config) ValidateGenerate() error {
	if err := c.RequireDiscovery(); err != nil {
		return err
	}
	if c.Generate.Package == "" {
		return fmt.Errorf("package name is required")
	}
	if c.Generate.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	return nil
}

// CachePath returns the bbolt file used for cached documents.
func (c *Config) CachePath() string {
	return filepath.Join(c.Cache.Dir, "documents.db")
}

func formatValidationError(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required", "required_with":
		return "required"
	case "gte":
		return fmt.Sprintf("must be at least %s", ve.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", ve.Param())
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", ve.Param())
	default:
		if ve.Param() != "" {
			return fmt.Sprintf("failed %s=%s validation", ve.Tag(), ve.Param())
		}
		return fmt.Sprintf("failed %s validation", ve.Tag())
	}
}
