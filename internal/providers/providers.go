// Package providers is the provider registry (C4): static OAuth endpoint
// and scope configuration per service, merged from a small set of
// built-in defaults and an optional operator-editable YAML overlay.
//
// The shape of Config and the map-of-service-id-to-Config registration
// pattern follow the teacher's own internal/providers package, which centralises
// third-party API defaults (base URL, user agent, rate limit) the same
// way so every bridge stays consistent instead of re-declaring constants.
package providers

import (
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
)

// Config is the OAuth2 endpoint and credential configuration for one
// service.
type Config struct {
	AuthURL                string   `yaml:"auth_url"`
	TokenURL               string   `yaml:"token_url"`
	DeviceAuthorizationURL string   `yaml:"device_authorization_url,omitempty"`
	RevokeURL              string   `yaml:"revoke_url,omitempty"`
	Scopes                 []string `yaml:"scopes,omitempty"`
	ClientID               string   `yaml:"client_id"`
	ClientSecretEnv        string   `yaml:"client_secret_env,omitempty"`
	RedirectPath           string   `yaml:"redirect_path,omitempty"`
}

// ClientSecret resolves the provider's client secret from the environment
// variable named by ClientSecretEnv, if any. Public (PKCE-only) clients
// leave this unset.
func (c Config) ClientSecret() string {
	if strings.TrimSpace(c.ClientSecretEnv) == "" {
		return ""
	}
	return os.Getenv(c.ClientSecretEnv)
}

// overlayEntry is the YAML shape of one entry in providers.yaml.
type overlayEntry struct {
	ID       string `yaml:"id"`
	Override bool   `yaml:"override,omitempty"`
	Config   `yaml:",inline"`
}

type overlayDocument struct {
	Providers []overlayEntry `yaml:"providers"`
}

// defaults are the built-in providers every daemon knows without any
// configuration. Their client ids are empty; a real client id comes only
// from an overlay entry with override:true, and a client secret only from
// the environment variable named by ClientSecretEnv. These are endpoint
// constants, not secrets.
func defaults() map[string]Config {
	return map[string]Config{
		"github": {
			AuthURL:         "https://github.com/login/oauth/authorize",
			TokenURL:        "https://github.com/login/oauth/access_token",
			Scopes:          []string{"repo", "read:org"},
			ClientSecretEnv: "SIGILFORGE_GITHUB_CLIENT_SECRET",
		},
		"spotify": {
			AuthURL:  "https://accounts.spotify.com/authorize",
			TokenURL: "https://accounts.spotify.com/api/token",
			Scopes:   []string{"user-read-email"},
		},
		"google": {
			AuthURL:                "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:               "https://oauth2.googleapis.com/token",
			DeviceAuthorizationURL: "https://oauth2.googleapis.com/device/code",
			RevokeURL:              "https://oauth2.googleapis.com/revoke",
			Scopes:                 []string{"openid", "email"},
			ClientSecretEnv:        "SIGILFORGE_GOOGLE_CLIENT_SECRET",
		},
	}
}

// Registry holds the merged set of provider configs.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Config
}

// NewRegistry builds a Registry from the built-in defaults alone.
func NewRegistry() *Registry {
	return &Registry{byID: defaults()}
}

// LoadOverlay merges entries from a providers.yaml document at path into
// the registry. A missing overlay file is not an error — it means the
// operator hasn't customised anything. Entries with override:false (the
// default) are ignored if a built-in of the same id already exists;
// override:true replaces it.
func (r *Registry) LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.Wrap(errkind.FileIo, err)
	}
	var doc overlayDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errkind.Wrap(errkind.FileIo, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range doc.Providers {
		id := strings.ToLower(strings.TrimSpace(e.ID))
		if id == "" {
			continue
		}
		if _, exists := r.byID[id]; exists && !e.Override {
			continue
		}
		r.byID[id] = e.Config
	}
	return nil
}

// Lookup returns the provider config for service, or
// ProviderNotConfigured.
func (r *Registry) Lookup(service ids.ServiceId) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byID[service.String()]
	if !ok {
		return Config{}, errkind.New(errkind.ProviderNotConfigured, "provider not configured").
			WithData(errkind.Data{Service: service.String()})
	}
	return cfg, nil
}

// Register installs or overwrites cfg for service, used by tests and by
// the overlay loader's tests directly.
func (r *Registry) Register(service ids.ServiceId, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[service.String()] = cfg
}
