package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/amend/pkg/graph"
)

// EvalTimeout is the default limit for a single evaluation.
const EvalTimeout = 5 * time.Second

var (
	// ErrTimeout is returned when a script runs longer than the engine allows.
	ErrTimeout = errors.New("engine: evaluation timed out")
	// ErrSuperseded is returned to an evaluation that finished after a newer
	// one had started.
	ErrSuperseded = errors.New("engine: evaluation superseded by a newer one")
)

type evalResult struct {
	graph  *graph.Graph
	errors []EvalError
	err    error
}

// await returns the result delivered on ch for the evaluation numbered gen.
// The sandbox goroutine is not interrupted on timeout; whatever it sends
// later lands in the buffered channel and is dropped.
func (e *Engine) await(ch <-chan evalResult, gen uint64) (*graph.Graph, []EvalError, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	select {
	case res := <-ch:
		if e.generation.Load() != gen {
			return nil, nil, ErrSuperseded
		}
		return res.graph, res.errors, res.err
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	}
}
