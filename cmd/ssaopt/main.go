// Command ssaopt reads a textual LLVM IR module, runs the Local Peephole
// Optimizer, Loop-Invariant Code Motion, and Loop Fusion passes over it by
// name, and writes the resulting module back out. Parsing/printing the
// textual IR is supplied entirely by github.com/llir/llvm's asm package;
// dominance/loop/scalar-evolution/dependence analyses are (re)computed here
// between passes the way a pass manager would.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"github.com/dshills/ssaopt/internal/passes/lf"
	"github.com/dshills/ssaopt/internal/passes/licm"
	"github.com/dshills/ssaopt/internal/passes/lpo"
	"github.com/dshills/ssaopt/internal/ssa"
)

// OptimizationLevel selects which of the three passes run, on a
// none/basic/standard/aggressive ladder.
type OptimizationLevel int

const (
	OptNone OptimizationLevel = iota
	OptBasic
	OptStandard
	OptAggressive
)

func main() {
	var input string
	var output string
	var optLevel string
	var passList string
	var quiet bool

	flag.StringVar(&input, "file", "", "LLVM IR (.ll) file to optimize")
	flag.StringVar(&output, "o", "", "output file (default: stdout)")
	flag.StringVar(&optLevel, "O", "2", "optimization level: 0 (none), 1 (lpo only), 2 (lpo+licm), 3 (lpo+licm+lf)")
	flag.StringVar(&passList, "passes", "", "explicit comma-separated pass list (lpo,licm,lf), overrides -O")
	flag.BoolVar(&quiet, "quiet", false, "suppress diagnostic output")
	flag.Parse()

	if input == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		os.Exit(1)
	}

	level, err := parseOptLevel(optLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	passes := resolvePasses(level, passList)

	m, err := asm.ParseFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", input, err)
		os.Exit(1)
	}

	diag := ssa.Stderr
	if quiet {
		diag = ssa.Discard
	}

	if err := run(m, passes, diag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := writeModule(m, output); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}
}

func parseOptLevel(s string) (OptimizationLevel, error) {
	switch s {
	case "0":
		return OptNone, nil
	case "1":
		return OptBasic, nil
	case "2":
		return OptStandard, nil
	case "3":
		return OptAggressive, nil
	default:
		return OptNone, fmt.Errorf("invalid optimization level: %s (use 0, 1, 2, or 3)", s)
	}
}

// resolvePasses honors an explicit -passes list when given, otherwise
// derives the pass list from the optimization level: each level is a
// strict superset of the one below it.
func resolvePasses(level OptimizationLevel, explicit string) []string {
	if explicit != "" {
		var out []string
		for _, p := range strings.Split(explicit, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	switch level {
	case OptNone:
		return nil
	case OptBasic:
		return []string{"lpo"}
	case OptStandard:
		return []string{"lpo", "licm"}
	default:
		return []string{"lpo", "licm", "lf"}
	}
}

// run applies each named pass, in order, across every function of m. LPO
// operates module-wide; LICM and Loop Fusion are per-function and require
// their own analyses rebuilt from the CFG, which this driver does fresh
// before every per-function pass since a preceding pass may have
// invalidated them.
func run(m *ir.Module, passes []string, diag ssa.Diagnostics) error {
	for _, name := range passes {
		switch name {
		case "lpo":
			lpo.New(diag).Run(m)
		case "licm":
			for _, fn := range m.Funcs {
				runLICM(fn, diag)
			}
		case "lf":
			for _, fn := range m.Funcs {
				runLF(fn, diag)
			}
		default:
			return fmt.Errorf("unknown pass: %s", name)
		}
	}
	return nil
}

func runLICM(fn *ir.Func, diag ssa.Diagnostics) {
	if len(fn.Blocks) == 0 {
		return
	}
	cfg := ssa.BuildCFG(fn)
	dt := ssa.BuildDominatorTree(fn, cfg)
	forest := ssa.DetectLoops(fn, cfg, dt)
	pass := licm.New(diag)
	for _, l := range forest.All() {
		pass.Run(fn, l, dt)
	}
}

func runLF(fn *ir.Func, diag ssa.Diagnostics) {
	if len(fn.Blocks) == 0 {
		return
	}
	cfg := ssa.BuildCFG(fn)
	dt := ssa.BuildDominatorTree(fn, cfg)
	pdt := ssa.BuildPostDominatorTree(fn, cfg)
	forest := ssa.DetectLoops(fn, cfg, dt)
	se := ssa.NewScalarEvolution()
	di := ssa.NewDependenceInfo()
	lf.New(diag).Run(fn, forest, dt, pdt, se, di)
}

func writeModule(m *ir.Module, output string) error {
	if output == "" {
		_, err := fmt.Fprint(os.Stdout, m.String())
		return err
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprint(f, m.String())
	return err
}
