// Package config loads the runtime settings shared by the Lambda processor
// and the notification receiver.
package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/berniyo/mvola-lambda/internal/mvola"
)

// Config is the root configuration.
type Config struct {
	MVola   MVolaConfig   `yaml:"mvola"`
	Poll    PollConfig    `yaml:"poll"`
	Outcome OutcomeConfig `yaml:"outcome"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// MVolaConfig holds partner credentials and client tuning.
type MVolaConfig struct {
	ConsumerKey    string        `yaml:"consumerKey"`
	ConsumerSecret string        `yaml:"consumerSecret"`
	PartnerName    string        `yaml:"partnerName"`
	PartnerMSISDN  string        `yaml:"partnerMsisdn"`
	Environment    string        `yaml:"environment"`
	BaseURL        string        `yaml:"baseUrl"`
	UserLanguage   string        `yaml:"userLanguage"`
	CallbackURL    string        `yaml:"callbackUrl"`
	HTTPTimeout    time.Duration `yaml:"httpTimeout"`
	SafetyMargin   time.Duration `yaml:"safetyMargin"`
	TokenAttempts  int           `yaml:"tokenAttempts"`
	MinAmount      int64         `yaml:"minAmount"`
	Currencies     []string      `yaml:"currencies"`
	// SandboxRestriction overrides the per-environment default when set.
	SandboxRestriction *bool `yaml:"sandboxRestriction"`
}

// PollConfig bounds the status polling loop.
type PollConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Interval    time.Duration `yaml:"interval"`
}

// OutcomeConfig is the downstream endpoint receiving payment outcomes.
type OutcomeConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// NotifyConfig configures the notification receiver.
type NotifyConfig struct {
	Addr string `yaml:"addr"`
}

// Load decodes the YAML file at path. ${VAR} references are substituted from
// the environment before decoding so secrets can stay out of the file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg.finish()
}

// FromEnv builds the configuration from MVOLA_* and related variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		MVola: MVolaConfig{
			ConsumerKey:    getEnv("MVOLA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MVOLA_CONSUMER_SECRET", ""),
			PartnerName:    getEnv("MVOLA_PARTNER_NAME", ""),
			PartnerMSISDN:  getEnv("MVOLA_PARTNER_MSISDN", ""),
			Environment:    getEnv("MVOLA_ENVIRONMENT", ""),
			BaseURL:        getEnv("MVOLA_BASE_URL", ""),
			UserLanguage:   getEnv("MVOLA_USER_LANGUAGE", ""),
			CallbackURL:    getEnv("MVOLA_CALLBACK_URL", ""),
		},
		Outcome: OutcomeConfig{
			URL:    getEnv("OUTCOME_CALLBACK_URL", ""),
			Secret: getEnv("OUTCOME_CALLBACK_SECRET", ""),
		},
		Notify: NotifyConfig{
			Addr: getEnv("NOTIFY_ADDR", ""),
		},
	}

	if v := getEnv("POLL_MAX_ATTEMPTS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("POLL_MAX_ATTEMPTS: %w", err)
		}
		cfg.Poll.MaxAttempts = n
	}
	if v := getEnv("POLL_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("POLL_INTERVAL: %w", err)
		}
		cfg.Poll.Interval = d
	}

	return cfg.finish()
}

// Resolve loads path when it is set and falls back to the environment otherwise.
func Resolve(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return FromEnv()
	}
	return Load(path)
}

func (c *Config) finish() (*Config, error) {
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.MVola.Environment == "" {
		c.MVola.Environment = string(mvola.Sandbox)
	}
	if c.MVola.UserLanguage == "" {
		c.MVola.UserLanguage = "FR"
	}
	if c.MVola.HTTPTimeout == 0 {
		c.MVola.HTTPTimeout = 30 * time.Second
	}
	if c.MVola.SafetyMargin == 0 {
		c.MVola.SafetyMargin = time.Minute
	}
	if c.MVola.TokenAttempts == 0 {
		c.MVola.TokenAttempts = 2
	}
	if c.MVola.MinAmount == 0 {
		c.MVola.MinAmount = mvola.DefaultMinAmount
	}
	if len(c.MVola.Currencies) == 0 {
		c.MVola.Currencies = []string{mvola.DefaultCurrency}
	}
	if c.Poll.MaxAttempts == 0 {
		c.Poll.MaxAttempts = 5
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 3 * time.Second
	}
	if c.Notify.Addr == "" {
		c.Notify.Addr = ":8080"
	}
}

func (c *Config) validate() error {
	env, err := mvola.ParseEnvironment(c.MVola.Environment)
	if err != nil {
		return fmt.Errorf("mvola.environment: %w", err)
	}
	if _, err := mvola.NewCredentials(c.MVola.ConsumerKey, c.MVola.ConsumerSecret,
		c.MVola.PartnerName, c.MVola.PartnerMSISDN, env); err != nil {
		return fmt.Errorf("mvola credentials: %w", err)
	}

	switch strings.ToUpper(c.MVola.UserLanguage) {
	case "FR", "MG":
	default:
		return fmt.Errorf("mvola.userLanguage must be 'FR' or 'MG', got '%s'", c.MVola.UserLanguage)
	}
	if c.MVola.HTTPTimeout < 0 || c.MVola.SafetyMargin < 0 {
		return fmt.Errorf("mvola durations must not be negative")
	}
	if c.MVola.TokenAttempts < 0 {
		return fmt.Errorf("mvola.tokenAttempts must not be negative")
	}
	if c.Poll.MaxAttempts < 0 {
		return fmt.Errorf("poll.maxAttempts must be positive, got %d", c.Poll.MaxAttempts)
	}
	if c.Poll.Interval < 0 {
		return fmt.Errorf("poll.interval must not be negative")
	}
	return nil
}

// Credentials returns the partner credentials.
func (c *Config) Credentials() (mvola.Credentials, error) {
	env, err := mvola.ParseEnvironment(c.MVola.Environment)
	if err != nil {
		return mvola.Credentials{}, err
	}
	return mvola.NewCredentials(c.MVola.ConsumerKey, c.MVola.ConsumerSecret,
		c.MVola.PartnerName, c.MVola.PartnerMSISDN, env)
}

// Rules returns the validation rules for the configured environment.
func (c *Config) Rules(env mvola.Environment) mvola.ValidationRules {
	rules := mvola.DefaultRules(env)
	rules.MinAmount = c.MVola.MinAmount
	rules.Currencies = c.MVola.Currencies
	if c.MVola.SandboxRestriction != nil {
		if *c.MVola.SandboxRestriction {
			rules.SandboxMSISDNs = []string{mvola.SandboxDebitTestMSISDN, mvola.SandboxCreditTestMSISDN}
		} else {
			rules.SandboxMSISDNs = nil
		}
	}
	return rules
}

// NewClient assembles a token manager and client from the configuration.
func (c *Config) NewClient(logger *slog.Logger) (*mvola.Client, error) {
	creds, err := c.Credentials()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: c.MVola.HTTPTimeout}
	baseURL := c.MVola.BaseURL
	if baseURL == "" {
		baseURL = creds.Environment().BaseURL()
	}

	tokens := mvola.NewTokenManager(creds,
		mvola.WithTokenHTTPClient(httpClient),
		mvola.WithTokenBaseURL(baseURL),
		mvola.WithSafetyMargin(c.MVola.SafetyMargin),
		mvola.WithTokenAttempts(c.MVola.TokenAttempts, 500*time.Millisecond),
		mvola.WithTokenLogger(logger),
	)

	return mvola.NewClient(creds,
		mvola.WithHTTPClient(httpClient),
		mvola.WithBaseURL(baseURL),
		mvola.WithTokenSource(tokens),
		mvola.WithValidationRules(c.Rules(creds.Environment())),
		mvola.WithUserLanguage(c.MVola.UserLanguage),
		mvola.WithDefaultCallbackURL(c.MVola.CallbackURL),
		mvola.WithLogger(logger),
	), nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
