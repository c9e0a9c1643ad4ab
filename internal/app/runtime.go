package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "MERIDIAN_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

// InTestMode reports whether the process runs under the test harness and
// should skip listeners, signal handling and other runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(func() {
		testModeFlag.Store(os.Getenv(testModeEnv) == "1")
	})
	return testModeFlag.Load()
}
