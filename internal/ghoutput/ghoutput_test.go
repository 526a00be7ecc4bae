package ghoutput

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/migratectl/internal/env"
)

func TestWriteNoopOutsideActions(t *testing.T) {
	require.NoError(t, Write(env.Vars{}, map[string]string{"rendered": "1"}))
}

func TestWriteAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	require.NoError(t, os.WriteFile(path, []byte("existing=1\n"), 0o600))

	vars := env.Vars{OutputFileVar: path}
	require.NoError(t, Write(vars, map[string]string{"rendered": "2", "failed": "0", " ": "x"}))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "existing=1\nfailed=0\nrendered=2\n", string(body))
}

func TestEncodeMultiline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, map[string]string{"failed_names": "002_bad\n004_worse"}))

	re := regexp.MustCompile(`^failed_names<<(ghadelimiter_[0-9a-f]{16})\n002_bad\n004_worse\n(ghadelimiter_[0-9a-f]{16})\n$`)
	m := re.FindStringSubmatch(buf.String())
	require.NotNil(t, m, buf.String())
	require.Equal(t, m[1], m[2])
}
