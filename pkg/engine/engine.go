// Package engine evaluates shape scripts. A script is a zygomys Lisp
// program run in a fresh sandbox; its builtins populate a graph.Graph.
package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chazu/amend/pkg/graph"
	zygo "github.com/glycerine/zygomys/zygo"
)

// EvalError is a problem in the script itself, such as a parse error or a
// builtin called with bad arguments.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Engine evaluates scripts. It is safe for concurrent use; each call to
// Evaluate gets its own sandbox.
type Engine struct {
	generation atomic.Uint64
	timeout    time.Duration
}

// NewEngine creates an Engine that gives each evaluation EvalTimeout.
func NewEngine() *Engine {
	return &Engine{timeout: EvalTimeout}
}

// SetTimeout changes the evaluation time limit. d <= 0 restores EvalTimeout.
func (e *Engine) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = EvalTimeout
	}
	e.timeout = d
}

// Evaluate runs source and returns the graph it builds. overrides replaces
// the default value of declared parameters by name; naming a parameter the
// script never declares is an evaluation error.
//
// Return semantics:
//   - On success: graph, nil, nil
//   - On script errors: nil, eval errors, nil
//   - On timeout, panic or a newer call: nil, nil, error
func (e *Engine) Evaluate(source string, overrides map[string]float64) (*graph.Graph, []EvalError, error) {
	gen := e.generation.Add(1)

	ch := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()
		g, evalErrs, err := evaluate(source, overrides)
		ch <- evalResult{graph: g, errors: evalErrs, err: err}
	}()

	return e.await(ch, gen)
}

func evaluate(source string, overrides map[string]float64) (*graph.Graph, []EvalError, error) {
	b := newBuilder(overrides)

	if strings.TrimSpace(source) != "" {
		env := zygo.NewZlispSandbox()
		defer env.Stop()
		registerBuiltins(env, b)

		if err := env.LoadString(preprocessSource(source)); err != nil {
			return nil, parseZygomysError(err), nil
		}
		if _, err := env.Run(); err != nil {
			return nil, parseZygomysError(err), nil
		}
	}

	if unknown := b.unknownOverrides(); len(unknown) > 0 {
		sort.Strings(unknown)
		evalErrs := make([]EvalError, len(unknown))
		for i, name := range unknown {
			evalErrs[i] = EvalError{Message: fmt.Sprintf("override for undeclared parameter %q", name)}
		}
		return nil, evalErrs, nil
	}

	b.g.DefaultRoots()
	return b.g, nil, nil
}

// linePattern matches zygomys messages of the form "Error on line N: ...".
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches "line N: ...".
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

func parseZygomysError(err error) []EvalError {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
