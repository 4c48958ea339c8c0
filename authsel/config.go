package authsel

import (
	"fmt"
	"os"
	"os/user"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the feature switches of a session.
type Config struct {
	// PeerDomain is a DNS suffix whose hosts are treated as local peers.
	PeerDomain string `yaml:"peer_domain" validate:"omitempty,hostname_rfc1123"`

	// EnableNTLM allows NTLM guesses.
	EnableNTLM bool `yaml:"enable_ntlm"`

	// WrapNTLMInSPNEGO sends NTLM inside SPNEGO instead of raw.
	WrapNTLMInSPNEGO bool `yaml:"wrap_ntlm_in_spnego"`

	// EnableLocalKDC allows well-known and classic local-KDC guesses.
	EnableLocalKDC bool `yaml:"enable_local_kdc"`

	// EnablePKU2U allows certificate-based peer guesses.
	EnablePKU2U bool `yaml:"enable_pku2u"`

	// EnableDNS adds DNS-based realm discovery to the default resolver.
	EnableDNS bool `yaml:"enable_dns"`

	// MaxConcurrentLookups bounds background discovery lookups.
	MaxConcurrentLookups int `yaml:"max_concurrent_lookups" validate:"min=1,max=64"`

	// MaxQueuedLookups bounds lookups waiting for a slot (-1 = unbounded).
	MaxQueuedLookups int `yaml:"max_queued_lookups" validate:"min=-1"`

	// LocalUsername is used for local-KDC guesses when no username hint is
	// given. Defaults to the current OS user.
	LocalUsername string `yaml:"local_username"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		EnableNTLM:           true,
		WrapNTLMInSPNEGO:     true,
		EnableLocalKDC:       true,
		EnablePKU2U:          true,
		EnableDNS:            true,
		MaxConcurrentLookups: 4,
		MaxQueuedLookups:     -1,
		LocalUsername:        currentUsername(),
	}
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("authsel: invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
