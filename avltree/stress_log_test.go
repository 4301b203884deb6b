package avltree

import (
	"flag"
	"io"
	"log"
	"testing"
)

// cdsVerbose turns on progress logging in the stress tests. Off by default,
// discarding output unless requested; pass -args -cdsverbose to `go test`
// to see it.
var cdsVerbose = flag.Bool("cdsverbose", false, "log stress-test progress to t.Logf")

// testLogWriter adapts a *testing.T into an io.Writer so a *log.Logger can
// write through t.Logf instead of directly to stderr, keeping output
// attributed to the right subtest.
type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// stressLogger returns a *log.Logger writing to t.Logf when -cdsverbose is
// set, and discarding everything otherwise.
func stressLogger(t *testing.T) *log.Logger {
	if *cdsVerbose {
		return log.New(testLogWriter{t}, "", log.Lmicroseconds)
	}
	return log.New(io.Discard, "", 0)
}
