package config

import (
	"encoding/json"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Config is the full process configuration, loaded once at startup and
// read-only afterwards.
type Config struct {
	Addr    string `env:"TENANTGATE_ADDR" envDefault:":8080"`
	HomeURL string `env:"TENANTGATE_HOME_URL"`

	ClientID     string `env:"TENANTGATE_CLIENT_ID"`
	ClientSecret Secret `env:"TENANTGATE_CLIENT_SECRET"`

	// Domain of the identity service, e.g. "auth.example.com".
	IdentityServiceDomain string `env:"TENANTGATE_IDP_DOMAIN"`

	LoginURL    string   `env:"TENANTGATE_LOGIN_URL"`
	RedirectURI string   `env:"TENANTGATE_REDIRECT_URI"`
	Scopes      []string `env:"TENANTGATE_SCOPES" envSeparator:"," envDefault:"openid,offline_access,email"`

	// CustomApplicationLoginPageURL overrides the identity service's
	// app-level login page for requests with no resolvable tenant.
	CustomApplicationLoginPageURL string `env:"TENANTGATE_APP_LOGIN_URL"`

	LoginStateSecret    Secret `env:"TENANTGATE_LOGIN_STATE_SECRET"`
	SessionCookieSecret Secret `env:"TENANTGATE_SESSION_COOKIE_SECRET"`

	// RootDomain is the suffix stripped from the request host to derive a
	// tenant subdomain. Only used when UseTenantSubdomains is set.
	RootDomain          string `env:"TENANTGATE_ROOT_DOMAIN"`
	UseTenantSubdomains bool   `env:"TENANTGATE_USE_TENANT_SUBDOMAINS"`
	UseCustomDomains    bool   `env:"TENANTGATE_USE_CUSTOM_DOMAINS"`

	DangerouslyDisableSecureCookies bool `env:"TENANTGATE_DANGEROUSLY_DISABLE_SECURE_COOKIES"`

	// SessionStore selects where sessions live: "cookie" (default, no
	// server-side state), "memory", or "redis".
	SessionStore string `env:"TENANTGATE_SESSION_STORE" envDefault:"cookie"`
	RedisAddr    string `env:"TENANTGATE_REDIS_ADDR" envDefault:"localhost:6379"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the resolved configuration
func Validate(cfg *Config) error {
	if cfg.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if cfg.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}
	if cfg.IdentityServiceDomain == "" {
		return fmt.Errorf("identity service domain is required")
	}
	if cfg.RedirectURI == "" {
		return fmt.Errorf("redirectUri is required")
	}
	if cfg.LoginURL == "" {
		return fmt.Errorf("loginUrl is required")
	}
	if cfg.LoginStateSecret == "" {
		return fmt.Errorf("loginStateSecret is required")
	}
	if cfg.SessionCookieSecret == "" {
		return fmt.Errorf("sessionCookieSecret is required")
	}
	if cfg.UseTenantSubdomains && cfg.RootDomain == "" {
		return fmt.Errorf("rootDomain is required when tenant subdomains are enabled")
	}
	switch cfg.SessionStore {
	case "cookie", "memory", "redis":
	default:
		return fmt.Errorf("unsupported session store: %s", cfg.SessionStore)
	}
	return nil
}
