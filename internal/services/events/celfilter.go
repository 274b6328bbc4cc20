package eventsvc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// ErrBadFilter reports a filter expression that failed to parse, check,
// or plan.
var ErrBadFilter = errors.New("events: bad filter")

// ValidateFilter reports whether expr compiles as a subscribe/sample
// filter. Transports use it to reject bad filters before committing to a
// streaming response.
func ValidateFilter(expr string) error {
	_, err := newCELFilter(expr)
	return err
}

// celFilter wraps a compiled CEL program shared by subscribe streaming and
// filtered sampling. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("seq", cel.IntType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("step", cel.IntType),
		cel.Variable("reward", cel.DoubleType),
		cel.Variable("reward_total", cel.DoubleType),
		cel.Variable("ts_us", cel.IntType),
		// Vectors as lists of doubles for component filters
		cel.Variable("state", cel.ListType(cel.DoubleType)),
		cel.Variable("action", cel.ListType(cel.DoubleType)),
		// Current time in us for windowed filters
		cel.Variable("now_us", cel.IntType),
	)
	if err != nil {
		return celFilter{}, fmt.Errorf("%w: %v", ErrBadFilter, err)
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, fmt.Errorf("%w: %v", ErrBadFilter, iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, fmt.Errorf("%w: %v", ErrBadFilter, iss2.Err())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, fmt.Errorf("%w: %v", ErrBadFilter, err)
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against an event. Evaluation
// errors fail closed: the event is not delivered. When disabled, returns
// true.
func (f celFilter) Eval(ev Event) bool {
	if !f.enabled {
		return true
	}
	state := make([]float64, len(ev.State))
	for i, v := range ev.State {
		state[i] = float64(v)
	}
	action := make([]float64, len(ev.Action))
	for i, v := range ev.Action {
		action[i] = float64(v)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"seq":          int64(ev.Seq),
		"kind":         ev.Kind,
		"step":         int64(ev.Step),
		"reward":       ev.Reward,
		"reward_total": ev.RewardTotal,
		"ts_us":        ev.TsUs,
		"state":        state,
		"action":       action,
		"now_us":       time.Now().UnixMicro(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
