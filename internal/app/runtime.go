package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv, when truthy, makes long-running binaries exit before dialing
// Postgres or Redis.
const TestModeEnv = "FRONTIER_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
})

// InTestMode reports whether runtime side effects are disabled. The
// environment is read once per process.
func InTestMode() bool {
	return testMode()
}
