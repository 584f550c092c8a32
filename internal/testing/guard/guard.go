// Package guard puts the process into test mode when imported. Test helpers
// import it for its side effect so that any binary entry point reached from a
// test returns before dialling Postgres or Redis.
package guard

import "os"

// Env is the variable the binaries consult.
const Env = "ODYSSEY_TEST_MODE"

func init() {
	if _, set := os.LookupEnv(Env); !set {
		_ = os.Setenv(Env, "1")
	}
}
