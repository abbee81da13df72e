package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// CommandTimeout is the maximum time allowed for one clipboard command.
const CommandTimeout = 5 * time.Second

// ErrCommandTimeout is returned when a clipboard command exceeds its timeout.
var ErrCommandTimeout = errors.New("clipboard: command timed out")

// CommandConfig holds configuration for command execution.
type CommandConfig struct {
	// Timeout for command execution (default: CommandTimeout)
	Timeout time.Duration

	// MaxOutputSize limits the amount of data read (default: MaxClipboardSize)
	MaxOutputSize int
}

// DefaultCommandConfig returns the command defaults.
func DefaultCommandConfig() *CommandConfig {
	return &CommandConfig{
		Timeout:       CommandTimeout,
		MaxOutputSize: MaxClipboardSize,
	}
}

// RunCommand runs name and returns its stdout. Exit status 1 with no output
// is treated as an empty clipboard.
func RunCommand(ctx context.Context, name string, args []string, config *CommandConfig) ([]byte, error) {
	if config == nil {
		config = DefaultCommandConfig()
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, args...).Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s after %v", ErrCommandTimeout, name, config.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 1 && len(output) == 0 {
				return []byte{}, nil
			}
			return nil, fmt.Errorf("command %s failed with exit code %d: %w",
				name, exitErr.ExitCode(), err)
		}
		return nil, fmt.Errorf("command %s failed: %w", name, err)
	}

	if len(output) > config.MaxOutputSize {
		return nil, fmt.Errorf("%w: %s output exceeds %d bytes",
			ErrContentTooLarge, name, config.MaxOutputSize)
	}

	return output, nil
}

// RunCommandWithInput runs name with input on stdin.
func RunCommandWithInput(ctx context.Context, name string, args []string, input []byte, config *CommandConfig) error {
	if config == nil {
		config = DefaultCommandConfig()
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %v", ErrCommandTimeout, name, config.Timeout)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}

	return nil
}
