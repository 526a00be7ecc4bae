// Package env contains helpers for loading and merging environment variables from multiple sources.
package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Vars represents a simple string-to-string map of variables.
type Vars map[string]string

// FromOS builds a Vars map from the current process environment.
func FromOS() Vars {
	out := make(Vars)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

// Merge merges several Vars maps into one, later maps overriding earlier keys.
func Merge(sets ...Vars) Vars {
	out := make(Vars)
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// Lookup returns the value for key and whether it was set.
func (v Vars) Lookup(key string) (string, bool) {
	if v == nil {
		return "", false
	}
	val, ok := v[key]
	return val, ok
}

// Present reports whether key is set to a non-blank value.
func (v Vars) Present(key string) bool {
	val, ok := v.Lookup(key)
	return ok && strings.TrimSpace(val) != ""
}

// LoadEnvFile loads a single .env-style file into Vars.
func LoadEnvFile(path string) (Vars, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	envMap, err := godotenv.Parse(f)
	if err != nil {
		return nil, err
	}
	out := make(Vars, len(envMap))
	for k, v := range envMap {
		out[k] = v
	}
	return out, nil
}

// LoadEnvFiles loads multiple .env-style files and merges them in order.
// Files listed in optional are skipped silently when they do not exist.
func LoadEnvFiles(baseDir string, files []string, optional ...string) (Vars, error) {
	skipMissing := make(map[string]struct{}, len(optional))
	for _, name := range optional {
		skipMissing[name] = struct{}{}
	}

	result := make(Vars)
	for _, name := range files {
		if name == "" {
			continue
		}
		path := name
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, name)
		}
		vars, err := LoadEnvFile(path)
		if err != nil {
			if _, ok := skipMissing[name]; ok && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load env file %q: %w", path, err)
		}
		result = Merge(result, vars)
	}
	return result, nil
}

// Resolve returns the effective variables for a run: values from env files
// first, overridden by the process environment.
func Resolve(baseDir string, files []string, optional ...string) (Vars, error) {
	fileVars, err := LoadEnvFiles(baseDir, files, optional...)
	if err != nil {
		return nil, err
	}
	return Merge(fileVars, FromOS()), nil
}
