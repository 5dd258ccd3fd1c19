// Package testing switches the stockroom binaries into test mode. Test
// packages import it for side effects before touching internal/app.
package testing

import (
	"os"

	"github.com/odyssey-erp/stockroom/internal/app"
)

func init() {
	_ = os.Setenv(app.TestModeEnv, "1")
	app.SetTestMode(true)
}
