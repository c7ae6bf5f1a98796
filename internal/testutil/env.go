// Package testutil provides small test-only helpers shared across the
// engine's packages, in particular opt-in gating for integration tests that
// touch a real OS resource (a real socket, a real file) rather than the
// in-process fakes most unit tests use.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package testutil

import (
	"os"
	"testing"

	"github.com/joho/godotenv"
)

// LoadDotEnv best-effort loads a .env file at path into the process
// environment, the way the teacher's Auth0 integration test does for
// per-suite credentials. Returns false if the file isn't present; callers
// should treat a missing file as "nothing to load", not a hard error.
func LoadDotEnv(path string) bool {
	return godotenv.Overload(path) == nil
}

// SkipUnlessEnv loads .env from path (if present) and then skips the
// calling test unless the named environment variable is set to a non-empty
// value, mirroring the teacher's "copy .env.example to .env" opt-in pattern
// for tests that need something a default CI run shouldn't depend on (here:
// binding real OS sockets rather than the in-process loopback transport).
func SkipUnlessEnv(t *testing.T, dotEnvPath, key string) string {
	t.Helper()
	LoadDotEnv(dotEnvPath)
	val := os.Getenv(key)
	if val == "" {
		t.Skipf("skipping: set %s (optionally via %s) to run this test", key, dotEnvPath)
	}
	return val
}
