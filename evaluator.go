package formulaengine

import (
	"fmt"
	"strings"
)

// EvalContext threads dependency bookkeeping through one evaluation of a
// single node (cell or named expression). A fresh context is created for
// every evaluateDependencyNode call.
type EvalContext struct {
	CurrentCell          CellAddress
	Dependencies         map[NodeKey]struct{}
	FrontierDependencies map[NodeKey]struct{}
}

func newEvalContext(cell CellAddress) *EvalContext {
	return &EvalContext{
		CurrentCell:          cell,
		Dependencies:         make(map[NodeKey]struct{}),
		FrontierDependencies: make(map[NodeKey]struct{}),
	}
}

func (c *EvalContext) touch(key NodeKey) { c.Dependencies[key] = struct{}{} }
func (c *EvalContext) touchFrontier(key NodeKey) {
	c.FrontierDependencies[key] = struct{}{}
}

// Evaluator is the tree walker: it turns an AST into an EvalResult, asking
// the Manager for the current result of any cell/named-expression it
// consults. It never recurses through evaluateCell itself — by the time a
// node is walked, the manager has already ensured its precedents (as
// ordered by the topological pass) carry a current cached result; the
// evaluator only reads that cache and records which keys it read.
type Evaluator struct {
	mgr  *Manager
	home CellAddress
	ctx  *EvalContext
}

func newEvaluator(mgr *Manager, home CellAddress, ctx *EvalContext) *Evaluator {
	return &Evaluator{mgr: mgr, home: home, ctx: ctx}
}

// Eval is the exhaustive, closed dispatch over Node variants.
func (e *Evaluator) Eval(node Node) EvalResult {
	switch n := node.(type) {
	case ValueNode:
		return ValueResult(n.Value)
	case InfinityNode:
		return ValueResult(InfinityValue(n.Sign))
	case ReferenceNode:
		return e.evalReference(n)
	case RangeNode:
		return e.evalRange(n)
	case ThreeDRangeNode:
		return e.evalThreeDRange(n)
	case NamedExpressionNode:
		return e.evalNamedExpression(n)
	case StructuredReferenceNode:
		return e.evalStructuredReference(n)
	case UnaryOpNode:
		return e.evalUnary(n)
	case BinaryOpNode:
		return e.evalBinary(n)
	case FunctionCallNode:
		return e.evalFunctionCall(n)
	case ArrayLiteralNode:
		return e.evalArrayLiteral(n)
	default:
		return ErrorResult(NewEngineError(ErrKindError, "unrecognized AST node"))
	}
}

func (e *Evaluator) resolveSheet(book, sheet string) (string, string) {
	if sheet == "" {
		sheet = e.home.Sheet
	}
	if book == "" {
		book = e.home.Workbook
	}
	return book, sheet
}

func (e *Evaluator) evalReference(n ReferenceNode) EvalResult {
	book, sheet := e.resolveSheet(n.Book, n.Sheet)
	addr := CellAddress{Workbook: book, Sheet: sheet, Row: n.Row, Col: n.Col}
	if !addr.validBounds() {
		return ErrorResult(NewEngineError(ErrKindRef, "address out of bounds"))
	}
	return e.mgr.resultForCell(addr, e.ctx)
}

func (e *Evaluator) evalRange(n RangeNode) EvalResult {
	book, sheet := e.resolveSheet(n.Book, n.Sheet)
	r := CellRange{Sheet: sheet, StartRow: n.StartRow, StartCol: n.StartCol, EndRow: n.EndRow, EndCol: n.EndCol}
	return e.evalRangeValue(book, r)
}

// evalRangeValue is the shared range-to-EvalResult machinery used by plain
// ranges, structured references, and (per-sheet) 3-D range slices.
func (e *Evaluator) evalRangeValue(book string, r CellRange) EvalResult {
	r = e.mgr.concreteRangeArea(book, r)
	if r.SingleCell() {
		addr := CellAddress{Workbook: book, Sheet: r.Sheet, Row: r.StartRow, Col: r.StartCol}
		return e.mgr.resultForCell(addr, e.ctx)
	}
	rows, cols := r.Dimensions()
	if rows <= 0 || cols <= 0 {
		return ValueResult(NumberValue(0))
	}
	origin := CellAddress{Workbook: book, Sheet: r.Sheet, Row: r.StartRow, Col: r.StartCol}
	// Consulting a range for its shape doesn't read every member cell this
	// pass: only the origin is read eagerly below, via at(0,0), for
	// OriginResult. The rest are frontier dependencies, cells this
	// evaluation discovered but deferred reading. A later write to any of
	// them must still invalidate this node even if nothing ever flattens
	// the spill far enough to read that offset.
	if !r.EndRow.isOpen() && !r.EndCol.isOpen() {
		for ro := int32(0); ro < rows; ro++ {
			for co := int32(0); co < cols; co++ {
				addr := CellAddress{Workbook: book, Sheet: r.Sheet, Row: r.StartRow + ro, Col: r.StartCol + co}
				e.ctx.touchFrontier(cellAddrKey(addr))
			}
		}
	}
	at := func(rowOffset, colOffset int32) EvalResult {
		if rowOffset < 0 || colOffset < 0 || rowOffset >= rows || colOffset >= cols {
			return ErrorResult(NewEngineError(ErrKindRef, "offset outside range"))
		}
		addr := CellAddress{Workbook: book, Sheet: r.Sheet, Row: r.StartRow + rowOffset, Col: r.StartCol + colOffset}
		return e.mgr.resultForCell(addr, e.ctx)
	}
	return SpilledResultOf(&SpilledResult{
		Origin: origin, Area: r, OriginResult: firstValue(at(0, 0)), At: at, Source: "range",
	})
}

func firstValue(r EvalResult) Value {
	if r.Kind == ResultValue {
		return r.Value
	}
	return Value{}
}

func (e *Evaluator) evalThreeDRange(n ThreeDRangeNode) EvalResult {
	if len(n.Sheets) == 0 {
		return ErrorResult(NewEngineError(ErrKindRef, "3-D range has no sheets"))
	}
	// The value is the first sheet's slice only. The multi-sheet key is
	// recorded as a dependency, but cell writes invalidate cell keys only, so
	// a write on any sheet other than the first does not invalidate this node.
	e.ctx.touch(EncodeKey(NodeRef{Kind: RefMultiRangeContiguous, Sheets: n.Sheets,
		StartRow: n.StartRow, StartCol: n.StartCol, EndRow: n.EndRow, EndCol: n.EndCol}))
	r := CellRange{Sheet: n.Sheets[0], StartRow: n.StartRow, StartCol: n.StartCol, EndRow: n.EndRow, EndCol: n.EndCol}
	return e.evalRangeValue(e.home.Workbook, r)
}

func (e *Evaluator) evalNamedExpression(n NamedExpressionNode) EvalResult {
	scope := n.Scope
	if scope == "" {
		scope = e.home.Sheet
	}
	return e.mgr.resultForNamed(e.home.Workbook, scope, n.Name, e.ctx)
}

func (e *Evaluator) evalStructuredReference(n StructuredReferenceNode) EvalResult {
	wb, ok := e.mgr.store.getWorkbook(e.home.Workbook)
	if !ok {
		return ErrorResult(NewEngineError(ErrKindRef, "unknown workbook"))
	}
	td, ok := wb.tables.Get(n.Table)
	if !ok {
		return ErrorResult(NewEngineError(ErrKindRef, "unknown table "+n.Table))
	}
	e.ctx.touch(TableKey(td.def.Sheet, td.def.Name, string(n.Selector)+"|"+joinCols(n.Columns)))
	if n.Selector == SelectThisRow {
		cols := n.Columns
		if len(cols) == 0 {
			cols = td.def.Headers
		}
		idx, ok := td.columnIdx[cols[0]]
		if !ok {
			return ErrorResult(NewEngineError(ErrKindRef, "unknown table column "+cols[0]))
		}
		addr := CellAddress{Workbook: e.home.Workbook, Sheet: td.def.Sheet, Row: e.home.Row, Col: td.def.AnchorCol + idx}
		return e.mgr.resultForCell(addr, e.ctx)
	}
	area, err := td.ResolveColumns(n.Columns)
	if err != nil {
		return ErrorResult(err)
	}
	return e.evalRangeValue(e.home.Workbook, area)
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}

func (e *Evaluator) evalUnary(n UnaryOpNode) EvalResult {
	operand := e.Eval(n.Operand)
	switch n.Op {
	case UnaryPlus:
		return liftUnary(e.home, operand, Plus)
	case UnaryMinus:
		return liftUnary(e.home, operand, Negate)
	case UnaryPercent:
		return liftUnary(e.home, operand, Percent)
	default:
		return ErrorResult(NewEngineError(ErrKindError, "unknown unary operator"))
	}
}

func (e *Evaluator) evalBinary(n BinaryOpNode) EvalResult {
	left := e.Eval(n.Left)
	right := e.Eval(n.Right)
	switch n.Op {
	case BinAdd:
		return liftBinary(e.home, left, right, Add)
	case BinSub:
		return liftBinary(e.home, left, right, Sub)
	case BinMul:
		return liftBinary(e.home, left, right, Mul)
	case BinDiv:
		return liftBinary(e.home, left, right, Div)
	case BinPow:
		return liftBinary(e.home, left, right, Pow)
	case BinConcat:
		return liftBinary(e.home, left, right, Concat)
	case BinEq:
		return liftBinary(e.home, left, right, func(a, b Value) (Value, *EngineError) { return Equals(a, b), nil })
	case BinNeq:
		return liftBinary(e.home, left, right, func(a, b Value) (Value, *EngineError) { return NotEquals(a, b), nil })
	case BinLt:
		return liftBinary(e.home, left, right, func(a, b Value) (Value, *EngineError) {
			c, err := Compare(a, b)
			if err != nil {
				return Value{}, err
			}
			return BooleanValue(c < 0), nil
		})
	case BinLte:
		return liftBinary(e.home, left, right, func(a, b Value) (Value, *EngineError) {
			c, err := Compare(a, b)
			if err != nil {
				return Value{}, err
			}
			return BooleanValue(c <= 0), nil
		})
	case BinGt:
		return liftBinary(e.home, left, right, func(a, b Value) (Value, *EngineError) {
			c, err := Compare(a, b)
			if err != nil {
				return Value{}, err
			}
			return BooleanValue(c > 0), nil
		})
	case BinGte:
		return liftBinary(e.home, left, right, func(a, b Value) (Value, *EngineError) {
			c, err := Compare(a, b)
			if err != nil {
				return Value{}, err
			}
			return BooleanValue(c >= 0), nil
		})
	default:
		return ErrorResult(NewEngineError(ErrKindError, "unknown binary operator"))
	}
}

func (e *Evaluator) evalFunctionCall(n FunctionCallNode) (result EvalResult) {
	fn, ok := e.mgr.registry.Lookup(n.Name)
	if !ok {
		return ErrorResult(NewEngineError(ErrKindName, "unknown function "+n.Name))
	}
	// A registered function is host code, not core code: a panic inside one
	// must not cross the library boundary. It is mapped to the closest
	// ErrKind via the keyword heuristic below and returned as a value,
	// preserving engine liveness.
	defer func() {
		if r := recover(); r != nil {
			result = ErrorResult(classifyPanic(n.Name, r))
		}
	}()
	return fn(e, n.Args)
}

// classifyPanic maps a recovered panic value to the closest ErrKind by
// matching keywords in its message.
func classifyPanic(fnName string, r any) *EngineError {
	msg := fmt.Sprintf("%v", r)
	lower := strings.ToLower(msg)
	kind := ErrKindError
	switch {
	case strings.Contains(lower, "divide by zero") || strings.Contains(lower, "division by zero"):
		kind = ErrKindDiv0
	case strings.Contains(lower, "index out of range") || strings.Contains(lower, "out of range"):
		kind = ErrKindRef
	case strings.Contains(lower, "nil pointer") || strings.Contains(lower, "type assertion") ||
		strings.Contains(lower, "convert"):
		kind = ErrKindValue
	case strings.Contains(lower, "not available") || strings.Contains(lower, "n/a"):
		kind = ErrKindNA
	}
	return NewEngineError(kind, fmt.Sprintf("%s panicked: %s", fnName, msg))
}

func (e *Evaluator) evalArrayLiteral(n ArrayLiteralNode) EvalResult {
	if len(n.Rows) == 0 {
		return ErrorResult(NewEngineError(ErrKindError, "empty array literal"))
	}
	cols := len(n.Rows[0])
	values := make([][]Value, len(n.Rows))
	for r, row := range n.Rows {
		if len(row) != cols {
			return ErrorResult(NewEngineError(ErrKindError, "ragged array literal"))
		}
		values[r] = make([]Value, cols)
		for c, node := range row {
			res := e.Eval(node)
			v, err := res.AsScalar()
			if err != nil {
				return ErrorResult(err)
			}
			values[r][c] = v
		}
	}
	area := CellRange{Sheet: e.home.Sheet, StartRow: e.home.Row, StartCol: e.home.Col,
		EndRow: FiniteEnd(e.home.Row + int32(len(values)) - 1), EndCol: FiniteEnd(e.home.Col + int32(cols) - 1)}
	at := func(rowOffset, colOffset int32) EvalResult {
		if rowOffset < 0 || colOffset < 0 || int(rowOffset) >= len(values) || int(colOffset) >= cols {
			return ErrorResult(NewEngineError(ErrKindRef, "offset outside array literal"))
		}
		return ValueResult(values[rowOffset][colOffset])
	}
	return SpilledResultOf(&SpilledResult{
		Origin: e.home, Area: area, OriginResult: values[0][0], At: at, Source: "array-literal",
	})
}
