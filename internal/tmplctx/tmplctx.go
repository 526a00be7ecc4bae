// Package tmplctx builds the set of functions injected into every migration template.
package tmplctx

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"text/template"

	"github.com/codex-k8s/migratectl/internal/ci"
	"github.com/codex-k8s/migratectl/internal/env"
	"github.com/codex-k8s/migratectl/internal/logging"
)

// Names of the functions templates can call.
const (
	FuncGetEnv          = "get_env"
	FuncMakeVaultClient = "make_vault_client"
)

var (
	// ErrUnsafeVaultLogging is returned when the vault client would be enabled
	// while debug logging is active inside CI.
	ErrUnsafeVaultLogging = errors.New("vault client is enabled, but log level is too verbose for CI; lower it to info or above to use the vault client")
	// ErrMissingEnvVar is the kind of error get_env returns for unset variables.
	ErrMissingEnvVar = errors.New("env var not found")
	// ErrNoVaultFactory is returned when vault is enabled without a client factory.
	ErrNoVaultFactory = errors.New("vault is enabled but no client factory is configured")
)

// MissingEnvError reports an environment variable requested by a template that is not set.
type MissingEnvError struct {
	Name string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("env var %q not found", e.Name)
}

func (e *MissingEnvError) Unwrap() error { return ErrMissingEnvVar }

// VaultClient is the secrets client handed to templates by make_vault_client.
type VaultClient interface {
	Get(path, field string) (string, error)
	GetFrom(mount, path, field string) (string, error)
}

// VaultFactory constructs a VaultClient.
type VaultFactory func() (VaultClient, error)

// Options configures Build.
type Options struct {
	// Env is the variable snapshot get_env reads from.
	Env env.Vars
	// VaultEnabled registers make_vault_client.
	VaultEnabled bool
	// LogLevel is the active log level, used by the vault safety check.
	LogLevel logging.Level
	// CI is the detected CI environment, used by the vault safety check.
	CI ci.Detection
	// NewVaultClient constructs the client on first use. Required when VaultEnabled.
	NewVaultClient VaultFactory
}

// Context is the immutable set of template functions for one run.
type Context struct {
	funcs template.FuncMap
}

// CheckVaultSafety refuses to enable the vault client when secrets could leak
// into verbose CI logs.
func CheckVaultSafety(vaultEnabled bool, level logging.Level, detection ci.Detection) error {
	if vaultEnabled && level.Verbose() && detection.CI {
		return ErrUnsafeVaultLogging
	}
	return nil
}

// Build constructs the template context. The vault safety check runs here,
// once, before any function is registered.
func Build(opts Options) (*Context, error) {
	if err := CheckVaultSafety(opts.VaultEnabled, opts.LogLevel, opts.CI); err != nil {
		return nil, err
	}

	vars := maps.Clone(opts.Env)
	funcs := template.FuncMap{
		FuncGetEnv: getEnv(vars),
	}

	if opts.VaultEnabled {
		if opts.NewVaultClient == nil {
			return nil, ErrNoVaultFactory
		}
		funcs[FuncMakeVaultClient] = makeVaultClient(opts.NewVaultClient)
	}

	return &Context{funcs: funcs}, nil
}

// FuncMap returns a copy of the registered functions.
func (c *Context) FuncMap() template.FuncMap {
	if c == nil {
		return template.FuncMap{}
	}
	return maps.Clone(c.funcs)
}

func getEnv(vars env.Vars) func(name string) (string, error) {
	return func(name string) (string, error) {
		v, ok := vars.Lookup(name)
		if !ok {
			return "", &MissingEnvError{Name: name}
		}
		return v, nil
	}
}

// makeVaultClient shares one client across every template in the run.
func makeVaultClient(factory VaultFactory) func() (VaultClient, error) {
	return sync.OnceValues(func() (VaultClient, error) {
		c, err := factory()
		if err != nil {
			return nil, fmt.Errorf("make vault client: %w", err)
		}
		return c, nil
	})
}
