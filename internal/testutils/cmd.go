// TiCS: disabled // Test helpers.

package testutils

import (
	"os"
)

const helperProcessEnv = "GO_WANT_HELPER_PROCESS"

// HelperCommand returns a command line re-executing the test binary to run only testName,
// as a fake external program. The environment variable marking the helper process is set through
// env(1) so that it never leaks into the parent test process.
//
// args are passed to the helper after a "--" separator and can be retrieved with HelperArgs.
func HelperCommand(testName string, args ...string) []string {
	argv := []string{"env", helperProcessEnv + "=1", os.Args[0], "-test.run=^" + testName + "$", "--"}
	return append(argv, args...)
}

// HelperArgs returns the arguments passed to a helper process, and false if the
// current process is not one.
func HelperArgs() ([]string, bool) {
	if os.Getenv(helperProcessEnv) != "1" {
		return nil, false
	}

	args := os.Args
	for len(args) > 0 {
		if args[0] != "--" {
			args = args[1:]
			continue
		}
		args = args[1:]
		break
	}
	return args, true
}
