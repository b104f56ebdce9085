package ssa

import (
	"fmt"
	"io"
	"os"
)

// Diagnostics is the injectable sink passes write their free-form,
// human-readable transformation log to: "Strength Reduction",
// "hoisted %x to pre-header", "Loop fused", and similar lines a reader uses
// to see what a pass actually did. Tests substitute a buffer; cmd/ssaopt wires os.Stderr.
type Diagnostics interface {
	Printf(format string, args ...interface{})
}

type writerDiagnostics struct{ w io.Writer }

// NewDiagnostics returns a Diagnostics that writes one line per call to w.
func NewDiagnostics(w io.Writer) Diagnostics { return writerDiagnostics{w: w} }

func (d writerDiagnostics) Printf(format string, args ...interface{}) {
	fmt.Fprintf(d.w, format+"\n", args...)
}

// Stderr is the default diagnostic sink used outside of tests.
var Stderr Diagnostics = writerDiagnostics{w: os.Stderr}

type discardDiagnostics struct{}

func (discardDiagnostics) Printf(string, ...interface{}) {}

// Discard is a no-op sink for callers that don't want a pass's chatter.
var Discard Diagnostics = discardDiagnostics{}
