//go:build !darwin && !linux
// +build !darwin,!linux

// Platforms without a command-line clipboard fall back to ErrNotSupported.
// Callers that still want to run use NoopClipboard.

package clipboard

func newPlatformClipboard(options) (Clipboard, error) {
	return nil, ErrNotSupported
}
