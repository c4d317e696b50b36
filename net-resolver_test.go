package proxycore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSystemResolverString(t *testing.T) {
	r := NewSystemResolver("system")
	require.Equal(t, "system", r.String())
}

func TestSystemResolverInvalidHost(t *testing.T) {
	r := NewSystemResolver("system")
	_, err := r.Resolve(context.Background(), "this-host-should-not-resolve.invalid")
	require.Error(t, err, "expected an error resolving a host under the reserved .invalid TLD")
	var resolveErr *ResolveError
	require.True(t, errors.As(err, &resolveErr), "expected a *ResolveError, got %T", err)
}
