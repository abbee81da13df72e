//go:build linux
// +build linux

package clipboard

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// LinuxClipboard implements clipboard access on Linux through wl-clipboard,
// xsel or xclip.
type LinuxClipboard struct {
	tool         clipboardTool
	cmdConfig    *CommandConfig
	pollInterval time.Duration
}

type clipboardTool struct {
	readCmd   string
	readArgs  []string
	writeCmd  string
	writeArgs []string
}

// Supported clipboard tools in order of preference
var clipboardTools = []clipboardTool{
	{
		readCmd:  "wl-paste",
		readArgs: []string{"--no-newline"},
		writeCmd: "wl-copy",
	},
	{
		readCmd:   "xsel",
		readArgs:  []string{"--output", "--clipboard"},
		writeCmd:  "xsel",
		writeArgs: []string{"--input", "--clipboard"},
	},
	{
		readCmd:   "xclip",
		readArgs:  []string{"-out", "-selection", "clipboard"},
		writeCmd:  "xclip",
		writeArgs: []string{"-in", "-selection", "clipboard"},
	},
}

// newPlatformClipboard returns a Linux clipboard implementation
func newPlatformClipboard(o options) (Clipboard, error) {
	for _, tool := range clipboardTools {
		if _, err := exec.LookPath(tool.readCmd); err != nil {
			continue
		}
		if _, err := exec.LookPath(tool.writeCmd); err != nil {
			continue
		}
		return &LinuxClipboard{tool: tool, cmdConfig: DefaultCommandConfig(), pollInterval: o.pollInterval}, nil
	}
	return nil, fmt.Errorf("%w: no clipboard tool found (install wl-clipboard, xsel, or xclip)", ErrNotSupported)
}

// Read returns the current clipboard contents
func (c *LinuxClipboard) Read() (string, error) {
	return c.read(context.Background())
}

func (c *LinuxClipboard) read(ctx context.Context) (string, error) {
	output, err := RunCommand(ctx, c.tool.readCmd, c.tool.readArgs, c.cmdConfig)
	if err != nil {
		return "", fmt.Errorf("clipboard read failed: %w", err)
	}
	if err := ValidateContent(output); err != nil {
		return "", err
	}
	return string(output), nil
}

// Write sets the clipboard contents. The change is reported by Watch like
// any other.
func (c *LinuxClipboard) Write(content string) error {
	data := []byte(content)
	if err := ValidateContent(data); err != nil {
		return err
	}
	if err := RunCommandWithInput(context.Background(), c.tool.writeCmd, c.tool.writeArgs, data, c.cmdConfig); err != nil {
		return fmt.Errorf("clipboard write failed: %w", err)
	}
	return nil
}

// Watch monitors the clipboard for changes. It waits on clipnotify when
// installed and polls otherwise.
func (c *LinuxClipboard) Watch(ctx context.Context) <-chan Change {
	p := newPoller(c.read, c.pollInterval)
	if _, err := exec.LookPath("clipnotify"); err == nil {
		p.notify = func(ctx context.Context) error {
			return exec.CommandContext(ctx, "clipnotify").Run()
		}
	}
	return p.watch(ctx)
}
