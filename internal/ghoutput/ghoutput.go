// Package ghoutput publishes step outputs for GitHub Actions.
package ghoutput

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/codex-k8s/migratectl/internal/env"
)

// OutputFileVar names the file GitHub Actions reads step outputs from.
const OutputFileVar = "GITHUB_OUTPUT"

// Write appends values to the file named by GITHUB_OUTPUT in vars.
// It is a no-op outside GitHub Actions.
func Write(vars env.Vars, values map[string]string) error {
	path, _ := vars.Lookup(OutputFileVar)
	path = strings.TrimSpace(path)
	if path == "" || len(values) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", OutputFileVar, err)
	}
	defer func() { _ = f.Close() }()

	return Encode(f, values)
}

// Encode writes values in the GITHUB_OUTPUT format, sorted by key.
// Multi-line values use the heredoc form.
func Encode(w io.Writer, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := values[key]
		if !strings.ContainsAny(value, "\r\n") {
			if _, err := fmt.Fprintf(w, "%s=%s\n", key, value); err != nil {
				return err
			}
			continue
		}
		delim, err := delimiter(value)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s<<%s\n%s\n%s\n", key, delim, value, delim); err != nil {
			return err
		}
	}
	return nil
}

func delimiter(value string) (string, error) {
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		delim := "ghadelimiter_" + hex.EncodeToString(buf)
		if !strings.Contains(value, delim) {
			return delim, nil
		}
	}
}
