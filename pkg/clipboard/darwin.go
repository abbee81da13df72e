//go:build darwin
// +build darwin

// This file implements clipboard access for macOS using the pbcopy and pbpaste commands.
//
// Change Detection:
//
// NSPasteboard keeps a changeCount that increments whenever the clipboard
// content changes. Watch reads it through osascript on every poll and only
// runs pbpaste when the count moves, then compares content hashes so a
// rewrite of identical content is not reported.

package clipboard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const changeCountScript = `
use framework "AppKit"
set pb to current application's NSPasteboard's generalPasteboard()
return pb's changeCount() as integer
`

// DarwinClipboard implements clipboard access on macOS using pbcopy/pbpaste.
type DarwinClipboard struct {
	cmdConfig    *CommandConfig
	pollInterval time.Duration
}

// newPlatformClipboard returns a macOS clipboard implementation.
// pbcopy and pbpaste are always present, so this never fails.
func newPlatformClipboard(o options) (Clipboard, error) {
	return &DarwinClipboard{
		cmdConfig:    DefaultCommandConfig(),
		pollInterval: o.pollInterval,
	}, nil
}

// Read returns the current clipboard contents using pbpaste.
func (c *DarwinClipboard) Read() (string, error) {
	return c.read(context.Background())
}

func (c *DarwinClipboard) read(ctx context.Context) (string, error) {
	output, err := RunCommand(ctx, "pbpaste", nil, c.cmdConfig)
	if err != nil {
		return "", fmt.Errorf("clipboard read failed: %w", err)
	}
	if err := ValidateContent(output); err != nil {
		return "", err
	}
	return string(output), nil
}

// Write sets the clipboard contents using pbcopy.
func (c *DarwinClipboard) Write(content string) error {
	data := []byte(content)
	if err := ValidateContent(data); err != nil {
		return err
	}
	if err := RunCommandWithInput(context.Background(), "pbcopy", nil, data, c.cmdConfig); err != nil {
		return fmt.Errorf("clipboard write failed: %w", err)
	}
	return nil
}

// Watch polls changeCount and reports content changes.
func (c *DarwinClipboard) Watch(ctx context.Context) <-chan Change {
	p := newPoller(c.read, c.pollInterval)
	p.counter = c.changeCount
	return p.watch(ctx)
}

// changeCount returns NSPasteboard's changeCount, or false when osascript
// fails.
func (c *DarwinClipboard) changeCount(ctx context.Context) (int, bool) {
	config := &CommandConfig{
		Timeout:       2 * time.Second,
		MaxOutputSize: 1024,
	}
	output, err := RunCommand(ctx, "osascript", []string{"-e", changeCountScript}, config)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0, false
	}
	return n, true
}
