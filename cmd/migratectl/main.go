package main

import (
	"os"

	"github.com/codex-k8s/migratectl/internal/cli"
	"github.com/codex-k8s/migratectl/internal/logging"
)

func main() {
	logger := logging.NewLogger(os.Stderr, logging.LevelInfo)
	if err := cli.Execute(os.Args[1:], logger); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(cli.ExitCode(err))
	}
}
