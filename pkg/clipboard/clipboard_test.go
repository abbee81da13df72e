package clipboard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for clipboard change")
		return Change{}
	}
}

func assertQuiet(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMockClipboard(t *testing.T) {
	t.Run("read and write", func(t *testing.T) {
		mock := NewMockClipboard()

		content, err := mock.Read()
		require.NoError(t, err)
		assert.Empty(t, content)

		require.NoError(t, mock.Write("Hello, clipboard!"))
		content, err = mock.Read()
		require.NoError(t, err)
		assert.Equal(t, "Hello, clipboard!", content)
		assert.Equal(t, []string{"Hello, clipboard!"}, mock.Writes())
	})

	t.Run("writes are echoed to watchers", func(t *testing.T) {
		mock := NewMockClipboard()
		mock.SetClock(func() int64 { return 1234 })
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := mock.Watch(ctx)
		require.Equal(t, 1, mock.WatcherCount())

		require.NoError(t, mock.Write("echo"))
		assert.Equal(t, Change{Content: "echo", Timestamp: 1234}, receive(t, ch))
	})

	t.Run("emit change", func(t *testing.T) {
		mock := NewMockClipboard()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := mock.Watch(ctx)
		mock.EmitChange("external", 99)
		assert.Equal(t, Change{Content: "external", Timestamp: 99}, receive(t, ch))
		assert.Empty(t, mock.Writes())

		content, _ := mock.Read()
		assert.Equal(t, "external", content)
	})

	t.Run("injected failures", func(t *testing.T) {
		mock := NewMockClipboard()
		boom := errors.New("boom")

		mock.FailWrites(boom)
		assert.ErrorIs(t, mock.Write("x"), boom)
		assert.Empty(t, mock.Writes())
		mock.FailWrites(nil)
		assert.NoError(t, mock.Write("x"))

		mock.FailReads(boom)
		_, err := mock.Read()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancel closes and unregisters", func(t *testing.T) {
		mock := NewMockClipboard()
		ctx, cancel := context.WithCancel(context.Background())
		ch := mock.Watch(ctx)
		cancel()

		assert.Eventually(t, func() bool { return mock.WatcherCount() == 0 }, time.Second, 5*time.Millisecond)
		_, ok := <-ch
		assert.False(t, ok)

		// Writes after cancel must not panic on the closed channel.
		assert.NoError(t, mock.Write("after"))
	})
}

func TestNoopClipboard(t *testing.T) {
	c := NewNoopClipboard()
	c.now = func() int64 { return 7 }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := c.Watch(ctx)

	require.NoError(t, c.Write("one"))
	assert.Equal(t, Change{Content: "one", Timestamp: 7}, receive(t, ch))

	// Rewriting identical content is not a change.
	require.NoError(t, c.Write("one"))
	assertQuiet(t, ch)

	got, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	err = c.Write(strings.Repeat("a", MaxClipboardSize+1))
	assert.ErrorIs(t, err, ErrContentTooLarge)
	got, _ = c.Read()
	assert.Equal(t, "one", got)
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		wantErr error
	}{
		{name: "empty", content: []byte{}},
		{name: "text", content: []byte("hello, 世界")},
		{name: "max size", content: []byte(strings.Repeat("a", MaxClipboardSize))},
		{name: "too large", content: []byte(strings.Repeat("a", MaxClipboardSize+1)), wantErr: ErrContentTooLarge},
		{name: "invalid utf8", content: []byte{0xff, 0xfe}, wantErr: ErrInvalidContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.content)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
