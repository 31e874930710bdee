package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "HEARTH_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
})

// InTestMode reports whether HEARTH_TEST_MODE is set, in which case the
// binaries return before opening Postgres, Redis or listeners.
func InTestMode() bool {
	return testMode()
}
