package testing

import (
	"os"
	stdtesting "testing"

	_ "github.com/freedayko/redmine-planning/internal/testing/guard"
)

func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
