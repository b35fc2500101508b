//go:build integration

// Package containers starts throwaway postgres and redis instances for
// integration suites. Each helper owns its container's lifecycle: teardown
// is registered on the test, so suites never terminate containers
// themselves.
package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// fatal terminates a partially started container before failing the test.
func fatal(t *testing.T, container testcontainers.Container, format string, args ...any) {
	t.Helper()
	if container != nil {
		_ = container.Terminate(context.Background())
	}
	t.Fatalf(format, args...)
}
