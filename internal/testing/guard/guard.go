// Package guard flips binaries into test mode when imported by tests, so
// main packages skip connecting to Postgres and Redis.
package guard

import (
	"os"
	"sync"
)

// TestModeEnv is the variable read by app.InTestMode.
const TestModeEnv = "BARSTOCK_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(TestModeEnv) == "" {
			_ = os.Setenv(TestModeEnv, "1")
		}
		if os.Getenv("STORE_DRIVER") == "" {
			_ = os.Setenv("STORE_DRIVER", "memory")
		}
	})
}
