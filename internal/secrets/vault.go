// Package secrets provides the Vault client exposed to migration templates.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	envparse "github.com/caarlos0/env/v11"
	vaultapi "github.com/hashicorp/vault/api"

	"github.com/codex-k8s/migratectl/internal/env"
)

// Common errors.
var (
	ErrNotFound     = errors.New("secrets: secret not found")
	ErrInvalidKey   = errors.New("secrets: invalid key")
	ErrProviderInit = errors.New("secrets: vault client initialization failed")
)

// Config holds Vault connection settings sourced from the environment.
type Config struct {
	// Address is the Vault server URL from VAULT_ADDR.
	Address string `env:"VAULT_ADDR"`
	// Token is the Vault token from VAULT_TOKEN.
	Token string `env:"VAULT_TOKEN"`
	// Namespace is the enterprise namespace from VAULT_NAMESPACE.
	Namespace string `env:"VAULT_NAMESPACE"`
	// Mount is the default KV v2 mount from VAULT_MOUNT.
	Mount string `env:"VAULT_MOUNT" envDefault:"secret"`
	// Timeout bounds a single secret read, from VAULT_READ_TIMEOUT.
	Timeout time.Duration `env:"VAULT_READ_TIMEOUT" envDefault:"10s"`
}

// LoadConfig parses Vault settings from vars.
func LoadConfig(vars env.Vars) (Config, error) {
	var cfg Config
	if err := envparse.ParseWithOptions(&cfg, envparse.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse vault config: %w", err)
	}
	return cfg, nil
}

// Client reads KV v2 secrets. Its exported methods are callable from templates.
type Client struct {
	api     *vaultapi.Client
	mount   string
	timeout time.Duration
}

// NewClient constructs a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	apiCfg := vaultapi.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderInit, apiCfg.Error)
	}
	if cfg.Address != "" {
		apiCfg.Address = strings.TrimRight(cfg.Address, "/")
	}
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}

	api, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderInit, err)
	}
	if cfg.Token != "" {
		api.SetToken(cfg.Token)
	}
	if api.Token() == "" {
		return nil, fmt.Errorf("%w: vault token is required", ErrProviderInit)
	}
	if cfg.Namespace != "" {
		api.SetNamespace(cfg.Namespace)
	}

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{api: api, mount: mount, timeout: timeout}, nil
}

// Get reads field from the secret at path under the default mount.
// An empty field returns the whole secret formatted as key=value pairs.
func (c *Client) Get(path, field string) (string, error) {
	return c.GetFrom(c.mount, path, field)
}

// GetFrom reads field from the secret at path under mount.
func (c *Client) GetFrom(mount, path, field string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", ErrInvalidKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	secret, err := c.api.KVv2(strings.Trim(mount, "/")).Get(ctx, path)
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, mount, path)
		}
		return "", fmt.Errorf("secrets: read %s/%s: %w", mount, path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, mount, path)
	}

	if field == "" {
		return formatData(secret.Data), nil
	}
	val, ok := secret.Data[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q not found at %s/%s", ErrNotFound, field, mount, path)
	}
	return fmt.Sprintf("%v", val), nil
}

// formatData renders secret data deterministically as sorted key=value lines.
func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s=%v", k, data[k])
	}
	return b.String()
}
