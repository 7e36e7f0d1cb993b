package bridge

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// Opener shows a file or URL in an external viewer.
type Opener struct {
	command string   // configured viewer, empty for system default
	args    []string // additional arguments for the viewer
	logger  *slog.Logger

	// start launches the command; replaced in tests.
	start func(name string, args ...string) error
}

// NewOpener creates an opener for the configured viewer command.
func NewOpener(command string, args []string, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{
		command: command,
		args:    args,
		logger:  logger,
		start:   startDetached,
	}
}

func startDetached(name string, args ...string) error {
	return exec.Command(name, args...).Start()
}

// Open launches target in the configured viewer or the system default.
func (o *Opener) Open(target string) error {
	name, args := o.commandFor(target)
	o.logger.Info("opening in viewer", "command", name, "args", args)
	if err := o.start(name, args...); err != nil {
		return fmt.Errorf("failed to launch %s: %w", name, err)
	}
	return nil
}

func (o *Opener) commandFor(target string) (string, []string) {
	if o.command != "" {
		args := append([]string{}, o.args...)
		return o.command, append(args, target)
	}

	switch runtime.GOOS {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "cmd", []string{"/c", "start", "", target}
	default:
		// Linux and other Unix-like systems
		return "xdg-open", []string{target}
	}
}
