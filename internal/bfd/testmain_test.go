package bfd_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks that no Engine loop or test goroutine outlives the
// tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
