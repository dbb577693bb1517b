package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadError_RetryableClassification(t *testing.T) {
	require.True(t, NewNetwork(errors.New("dial tcp: timeout")).Retryable())
	require.True(t, NewHttp(503, "service unavailable").Retryable())
	require.False(t, NewHttp(404, "not found").Retryable())
	require.False(t, NewUnsupportedServer("no accept-ranges").Retryable())
	require.False(t, NewAssembly("size mismatch").Retryable())
	require.False(t, NewQuota(errors.New("disk full")).Retryable())
	require.False(t, NewStorage(errors.New("boom")).Retryable())
}

func TestDownloadError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	derr := NewNetwork(cause)
	require.ErrorIs(t, derr, cause)
}

func TestDownloadError_Error_IncludesStatusWhenPresent(t *testing.T) {
	derr := NewHttp(503, "service unavailable")
	require.Contains(t, derr.Error(), "503")

	derr2 := NewNetwork(errors.New("x"))
	require.NotContains(t, derr2.Error(), "(0)")
}
