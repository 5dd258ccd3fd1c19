package app

import (
	"os"
	"sync/atomic"
)

// TestModeEnv set to "1" keeps the binaries from dialing Postgres or Redis and
// silences the request logger.
const TestModeEnv = "STOCKROOM_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether runtime side effects should be skipped. The
// environment is read on first use; SetTestMode overrides it.
func InTestMode() bool {
	if on := testMode.Load(); on != nil {
		return *on
	}
	on := os.Getenv(TestModeEnv) == "1"
	testMode.CompareAndSwap(nil, &on)
	return *testMode.Load()
}

// SetTestMode forces the flag regardless of the environment.
func SetTestMode(on bool) {
	testMode.Store(&on)
}
