// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds blocking calls made by tests
const DefaultTimeout = 5 * time.Second

// QuietLogger returns a logger that discards everything
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Context returns a context cancelled after DefaultTimeout or at test cleanup
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// Eventually waits for condition to be true
func Eventually(t testing.TB, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, condition, DefaultTimeout, time.Millisecond, msgAndArgs...)
}

// Receive waits for a value on ch or fails the test after DefaultTimeout
func Receive[T any](t testing.TB, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(DefaultTimeout):
		t.Fatalf("timed out waiting for channel receive")
		var zero T
		return zero
	}
}
