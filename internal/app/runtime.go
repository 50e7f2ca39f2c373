package app

import (
	"os"
	"sync"
)

// testModeEnv short-circuits main() so go test can exercise packages
// without booting servers.
const testModeEnv = "BEANLEDGER_TEST_MODE"

var (
	testModeOnce sync.Once
	testMode     bool
)

// InTestMode reports whether runtime side effects should be skipped.
func InTestMode() bool {
	testModeOnce.Do(func() {
		v := os.Getenv(testModeEnv)
		testMode = v == "1" || v == "true"
	})
	return testMode
}
