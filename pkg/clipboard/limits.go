package clipboard

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// MaxClipboardSize is the largest content read, written or synced (10MB).
	MaxClipboardSize = 10 * 1024 * 1024

	// MaxReasonableSize for normal text content (1MB).
	MaxReasonableSize = 1024 * 1024
)

var (
	// ErrContentTooLarge is returned for content above MaxClipboardSize.
	ErrContentTooLarge = errors.New("clipboard: content too large")

	// ErrInvalidContent is returned for content that is not valid UTF-8.
	ErrInvalidContent = errors.New("clipboard: content is not valid UTF-8")
)

// ValidateContent checks if clipboard content is within acceptable limits.
func ValidateContent(content []byte) error {
	if len(content) > MaxClipboardSize {
		return fmt.Errorf("%w: %d bytes (max: %d)",
			ErrContentTooLarge, len(content), MaxClipboardSize)
	}

	if !utf8.Valid(content) {
		return ErrInvalidContent
	}

	return nil
}
