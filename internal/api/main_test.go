package api

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutines leak across the HTTP tests; httptest
// servers and the rate limiter must shut down cleanly.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}
