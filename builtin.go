package formulaengine

import "strings"

// flattenArg evaluates a single argument node and expands it to its
// constituent scalar values in row-major order: a plain value yields one
// element, a spilled range/array yields one element per cell of its area,
// with a blank cell read as Number 0 rather than skipped.
func flattenArg(ev *Evaluator, node Node) ([]Value, *EngineError) {
	result := ev.Eval(node)
	return flattenResult(result)
}

func flattenResult(result EvalResult) ([]Value, *EngineError) {
	switch result.Kind {
	case ResultError:
		return nil, result.Err
	case ResultValue:
		return []Value{result.Value}, nil
	case ResultSpilled:
		rows, cols := result.Spill.Area.Dimensions()
		out := make([]Value, 0, rows*cols)
		for r := int32(0); r < rows; r++ {
			for c := int32(0); c < cols; c++ {
				cell := result.Spill.At(r, c)
				if cell.Kind == ResultError {
					return nil, cell.Err
				}
				v, err := cell.AsScalar()
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		}
		return out, nil
	default:
		return nil, NewEngineError(ErrKindError, "unreachable eval result kind")
	}
}

func flattenAll(ev *Evaluator, args []Node) ([]Value, *EngineError) {
	var all []Value
	for _, a := range args {
		vs, err := flattenArg(ev, a)
		if err != nil {
			return nil, err
		}
		all = append(all, vs...)
	}
	return all, nil
}

func registerBuiltins(r *FunctionRegistry) {
	r.register("SUM", fnSum)
	r.register("AVERAGE", fnAverage)
	r.register("AVERAGEA", fnAverageA)
	r.register("COUNT", fnCount)
	r.register("COUNTA", fnCountA)
	r.register("MAX", fnMax)
	r.register("MIN", fnMin)
	r.register("IF", fnIf)
	r.register("AND", fnAnd)
	r.register("OR", fnOr)
	r.register("NOT", fnNot)
	r.register("CONCATENATE", fnConcatenate)
	r.register("LEN", fnLen)
}

func fnSum(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	total := 0.0
	for _, v := range values {
		if n, ok := isNumeric(v); ok {
			total += n
		}
	}
	return ValueResult(NumberValue(total))
}

func fnAverage(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	total, count := 0.0, 0
	for _, v := range values {
		if n, ok := isNumeric(v); ok {
			total += n
			count++
		}
	}
	if count == 0 {
		return ErrorResult(NewEngineError(ErrKindDiv0, "AVERAGE of zero numeric values"))
	}
	return ValueResult(NumberValue(total / float64(count)))
}

// fnAverageA differs from AVERAGE in including Boolean operands (TRUE=1,
// FALSE=0) and treating non-numeric, non-boolean values as 0 rather than
// skipping them, matching the conventional AVERAGEA/COUNTA split.
func fnAverageA(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	if len(values) == 0 {
		return ErrorResult(NewEngineError(ErrKindDiv0, "AVERAGEA of zero values"))
	}
	total := 0.0
	for _, v := range values {
		switch v.Kind {
		case ValueBoolean:
			if v.Bool {
				total += 1
			}
		default:
			if n, ok := isNumeric(v); ok {
				total += n
			}
		}
	}
	return ValueResult(NumberValue(total / float64(len(values))))
}

func fnCount(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	n := 0
	for _, v := range values {
		if _, ok := isNumeric(v); ok {
			n++
		}
	}
	return ValueResult(NumberValue(float64(n)))
}

func fnCountA(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	return ValueResult(NumberValue(float64(len(values))))
}

func fnMax(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	best, found := 0.0, false
	for _, v := range values {
		if n, ok := isNumeric(v); ok {
			if !found || n > best {
				best, found = n, true
			}
		}
	}
	return ValueResult(NumberValue(best))
}

func fnMin(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	best, found := 0.0, false
	for _, v := range values {
		if n, ok := isNumeric(v); ok {
			if !found || n < best {
				best, found = n, true
			}
		}
	}
	return ValueResult(NumberValue(best))
}

func fnIf(ev *Evaluator, args []Node) EvalResult {
	if len(args) < 2 || len(args) > 3 {
		return ErrorResult(NewEngineError(ErrKindValue, "IF takes 2 or 3 arguments"))
	}
	cond, err := flattenArg(ev, args[0])
	if err != nil {
		return ErrorResult(err)
	}
	if len(cond) != 1 || cond[0].Kind != ValueBoolean {
		return ErrorResult(NewEngineError(ErrKindValue, "IF condition must be a single boolean"))
	}
	if cond[0].Bool {
		return ev.Eval(args[1])
	}
	if len(args) == 3 {
		return ev.Eval(args[2])
	}
	return ValueResult(BooleanValue(false))
}

func fnAnd(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	if len(values) == 0 {
		return ErrorResult(NewEngineError(ErrKindValue, "AND requires at least one argument"))
	}
	result := true
	for _, v := range values {
		b, berr := asBoolean(v)
		if berr != nil {
			return ErrorResult(berr)
		}
		result = result && b
	}
	return ValueResult(BooleanValue(result))
}

func fnOr(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	if len(values) == 0 {
		return ErrorResult(NewEngineError(ErrKindValue, "OR requires at least one argument"))
	}
	result := false
	for _, v := range values {
		b, berr := asBoolean(v)
		if berr != nil {
			return ErrorResult(berr)
		}
		result = result || b
	}
	return ValueResult(BooleanValue(result))
}

func fnNot(ev *Evaluator, args []Node) EvalResult {
	if len(args) != 1 {
		return ErrorResult(NewEngineError(ErrKindValue, "NOT takes exactly one argument"))
	}
	values, err := flattenArg(ev, args[0])
	if err != nil {
		return ErrorResult(err)
	}
	if len(values) != 1 {
		return ErrorResult(NewEngineError(ErrKindValue, "NOT requires a single value"))
	}
	b, berr := asBoolean(values[0])
	if berr != nil {
		return ErrorResult(berr)
	}
	return ValueResult(BooleanValue(!b))
}

func asBoolean(v Value) (bool, *EngineError) {
	if v.Kind == ValueBoolean {
		return v.Bool, nil
	}
	return false, NewEngineError(ErrKindValue, "expected a boolean operand")
}

// fnConcatenate coerces Boolean and Infinity operands to their display
// string, wider than the `&` primitive's Number|String-only contract. See
// DESIGN.md Open Question 3.
func fnConcatenate(ev *Evaluator, args []Node) EvalResult {
	values, err := flattenAll(ev, args)
	if err != nil {
		return ErrorResult(err)
	}
	var sb strings.Builder
	for _, v := range values {
		sb.WriteString(v.DisplayString())
	}
	return ValueResult(StringValue(sb.String()))
}

func fnLen(ev *Evaluator, args []Node) EvalResult {
	if len(args) != 1 {
		return ErrorResult(NewEngineError(ErrKindValue, "LEN takes exactly one argument"))
	}
	values, err := flattenArg(ev, args[0])
	if err != nil {
		return ErrorResult(err)
	}
	if len(values) != 1 || values[0].Kind != ValueString {
		return ErrorResult(NewEngineError(ErrKindValue, "LEN requires a single string operand"))
	}
	return ValueResult(NumberValue(float64(len(values[0].Str))))
}
