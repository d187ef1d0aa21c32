// Package guard forces test mode for packages that exercise the full
// runtime. Import it for side effects from _test files.
package guard

import (
	"os"
	"sync"

	"github.com/taskdesk/taskdesk/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("TASKDESK_TEST_MODE") == "" {
			_ = os.Setenv("TASKDESK_TEST_MODE", "1")
		}
		app.RefreshTestMode()
	})
}
