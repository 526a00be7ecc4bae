package cli

import (
	"errors"

	"github.com/codex-k8s/migratectl/internal/tmplctx"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUnsafeVault = 2
)

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, tmplctx.ErrUnsafeVaultLogging):
		return ExitUnsafeVault
	default:
		return ExitFailure
	}
}
