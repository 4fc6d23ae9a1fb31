// Package expr provides the sandboxed expression evaluator used by condition
// nodes, loop for_each/break_if and templated delay targets. Expressions are
// CEL programs compiled against the declared run context only: an identifier
// that is neither a context name nor a registered helper fails at compile
// time, before any evaluation happens.
package expr

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Evaluator compiles and caches CEL programs keyed by expression text and the
// set of context variable names in scope.
type Evaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a new evaluator with an empty program cache
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// Evaluate evaluates an expression against the supplied context and returns
// the raw value.
func (e *Evaluator) Evaluate(expression string, context map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}

	prg, err := e.program(expression, context)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(context)
	if err != nil {
		return nil, fmt.Errorf("expression evaluation error: %w", err)
	}
	return out.Value(), nil
}

// EvaluateBool evaluates an expression and requires a boolean result
func (e *Evaluator) EvaluateBool(expression string, context map[string]any) (bool, error) {
	value, err := e.Evaluate(expression, context)
	if err != nil {
		return false, err
	}
	result, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return boolean, got %T", value)
	}
	return result, nil
}

// EvaluateList evaluates an expression and requires a sequence result
func (e *Evaluator) EvaluateList(expression string, context map[string]any) ([]any, error) {
	value, err := e.Evaluate(expression, context)
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case []any:
		return v, nil
	case []ref.Val:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item.Value()
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expression must yield a sequence, got %T", value)
	}
}

// ClearCache clears the compiled program cache
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize returns the number of cached programs
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func (e *Evaluator) program(expression string, context map[string]any) (cel.Program, error) {
	names := make([]string, 0, len(context))
	for name := range context {
		names = append(names, name)
	}
	sort.Strings(names)
	key := expression + "\x00" + strings.Join(names, ",")

	e.mu.RLock()
	prg, exists := e.cache[key]
	e.mu.RUnlock()
	if exists {
		return prg, nil
	}

	prg, err := compile(expression, names)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = prg
	e.mu.Unlock()
	return prg, nil
}

func compile(expression string, varNames []string) (cel.Program, error) {
	opts := make([]cel.EnvOption, 0, len(varNames)+8)
	for _, name := range varNames {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	opts = append(opts, helperFunctions()...)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		if strings.Contains(issues.Err().Error(), "undeclared reference") {
			return nil, fmt.Errorf("name not allowed in expression: %w", issues.Err())
		}
		return nil, fmt.Errorf("expression compile error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression program: %w", err)
	}
	return prg, nil
}

// helperFunctions declares the small whitelisted helper library available to
// expressions on top of the CEL builtins (size, comparisons, arithmetic, in,
// list macros).
func helperFunctions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("len",
			cel.Overload("len_dyn", []*cel.Type{cel.DynType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					sizer, ok := v.(traits.Sizer)
					if !ok {
						return types.NewErr("len: value of type %s has no length", v.Type())
					}
					return sizer.Size()
				}))),
		cel.Function("sum",
			cel.Overload("sum_list", []*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					items, err := toFloatList(v)
					if err != nil {
						return types.NewErr("sum: %v", err)
					}
					var total float64
					for _, f := range items {
						total += f
					}
					return types.Double(total)
				}))),
		cel.Function("min",
			cel.Overload("min_list", []*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					items, err := toFloatList(v)
					if err != nil || len(items) == 0 {
						return types.NewErr("min: non-empty numeric sequence required")
					}
					m := items[0]
					for _, f := range items[1:] {
						if f < m {
							m = f
						}
					}
					return types.Double(m)
				}))),
		cel.Function("max",
			cel.Overload("max_list", []*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					items, err := toFloatList(v)
					if err != nil || len(items) == 0 {
						return types.NewErr("max: non-empty numeric sequence required")
					}
					m := items[0]
					for _, f := range items[1:] {
						if f > m {
							m = f
						}
					}
					return types.Double(m)
				}))),
		cel.Function("abs",
			cel.Overload("abs_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Double(math.Abs(float64(v.(types.Double))))
				})),
			cel.Overload("abs_int", []*cel.Type{cel.IntType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					n := int64(v.(types.Int))
					if n < 0 {
						n = -n
					}
					return types.Int(n)
				}))),
		cel.Function("date",
			cel.Overload("date_string", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					format, ok := v.Value().(string)
					if !ok {
						return types.NewErr("date: format must be a string")
					}
					return types.String(time.Now().Format(toGoLayout(format)))
				}))),
		cel.Function("round",
			cel.Overload("round_double", []*cel.Type{cel.DoubleType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Int(int64(math.Round(float64(v.(types.Double)))))
				}))),
	}
}

func toFloatList(v ref.Val) ([]float64, error) {
	lister, ok := v.(traits.Lister)
	if !ok {
		return nil, fmt.Errorf("value of type %s is not a sequence", v.Type())
	}
	size, _ := lister.Size().Value().(int64)
	out := make([]float64, 0, size)
	for i := int64(0); i < size; i++ {
		item := lister.Get(types.Int(i))
		switch n := item.Value().(type) {
		case int64:
			out = append(out, float64(n))
		case float64:
			out = append(out, n)
		case uint64:
			out = append(out, float64(n))
		default:
			return nil, fmt.Errorf("non-numeric element %v", item.Value())
		}
	}
	return out, nil
}
