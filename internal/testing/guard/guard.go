package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PLANNING_TEST_MODE") == "" {
			_ = os.Setenv("PLANNING_TEST_MODE", "1")
		}
	})
}
