package command

import (
	"log/slog"

	"github.com/dbonne/repmgr/pkg/bash"
)

// Runner executes the operator-supplied promote/follow commands. The commands
// are opaque: only the exit status matters.
type Runner interface {
	Run(cmd string) ([]byte, error)
}

func NewDefaultRunner(logger *slog.Logger) Runner {
	return &ShellRunner{Logger: logger}
}

// ShellRunner is the default Runner implementation that shells out.
type ShellRunner struct {
	Logger *slog.Logger
}

// Run implements Runner
func (r *ShellRunner) Run(cmd string) ([]byte, error) {
	r.Logger.Info("execute command", "command", cmd)
	return bash.RunCommand(cmd)
}
