package formulaengine

// NodeKind tags the closed set of AST node variants. As per the
// re-architecture guidance, nodes are a sealed sum matched exhaustively by
// the evaluator rather than dispatched virtually through per-node methods.
type NodeKind uint8

const (
	NodeValue NodeKind = iota
	NodeInfinity
	NodeReference
	NodeRange
	NodeThreeDRange
	NodeNamedExpression
	NodeStructuredReference
	NodeUnaryOp
	NodeBinaryOp
	NodeFunctionCall
	NodeArrayLiteral
)

// UnaryOperator enumerates the unary operators `+ - %`.
type UnaryOperator uint8

const (
	UnaryPlus UnaryOperator = iota
	UnaryMinus
	UnaryPercent
)

// BinaryOperator enumerates the binary operators.
type BinaryOperator uint8

const (
	BinAdd BinaryOperator = iota
	BinSub
	BinMul
	BinDiv
	BinPow
	BinConcat
	BinEq
	BinNeq
	BinLt
	BinLte
	BinGt
	BinGte
)

// Node is the sealed AST node interface. Every concrete node type below
// implements it via an unexported marker method, closing the set.
type Node interface {
	astNode()
	Kind() NodeKind
}

type ValueNode struct{ Value Value }

func (ValueNode) astNode()        {}
func (ValueNode) Kind() NodeKind { return NodeValue }

type InfinityNode struct{ Sign int8 }

func (InfinityNode) astNode()        {}
func (InfinityNode) Kind() NodeKind { return NodeInfinity }

// ReferenceNode is a single-cell reference, relative to the formula's home
// cell unless AbsRow/AbsCol mark an axis absolute.
type ReferenceNode struct {
	Sheet           string // "" means same sheet as the formula's home cell
	Book            string // "" means same workbook
	Row, Col        int32
	AbsRow, AbsCol  bool
}

func (ReferenceNode) astNode()        {}
func (ReferenceNode) Kind() NodeKind { return NodeReference }

type RangeNode struct {
	Sheet    string
	Book     string
	StartRow, StartCol int32
	EndRow, EndCol     RangeEnd
	AbsStartRow, AbsStartCol, AbsEndRow, AbsEndCol bool
}

func (RangeNode) astNode()        {}
func (RangeNode) Kind() NodeKind { return NodeRange }

// ThreeDRangeNode spans a contiguous or explicit list of sheets.
type ThreeDRangeNode struct {
	Sheets   []string
	StartRow, StartCol int32
	EndRow, EndCol     RangeEnd
}

func (ThreeDRangeNode) astNode()        {}
func (ThreeDRangeNode) Kind() NodeKind { return NodeThreeDRange }

type NamedExpressionNode struct {
	Scope string // sheet name, or "" meaning resolve scope-then-global from the formula's home sheet
	Name  string
}

func (NamedExpressionNode) astNode()        {}
func (NamedExpressionNode) Kind() NodeKind { return NodeNamedExpression }

// StructuredReferenceSelector enumerates the `T[col]` / `T[[#Data],[col]]` /
// `T[@col]` forms.
type StructuredReferenceSelector uint8

const (
	SelectColumn StructuredReferenceSelector = iota
	SelectDataColumn
	SelectThisRow
)

type StructuredReferenceNode struct {
	Table    string
	Selector StructuredReferenceSelector
	Columns  []string
}

func (StructuredReferenceNode) astNode()        {}
func (StructuredReferenceNode) Kind() NodeKind { return NodeStructuredReference }

type UnaryOpNode struct {
	Op      UnaryOperator
	Operand Node
}

func (UnaryOpNode) astNode()        {}
func (UnaryOpNode) Kind() NodeKind { return NodeUnaryOp }

type BinaryOpNode struct {
	Op          BinaryOperator
	Left, Right Node
}

func (BinaryOpNode) astNode()        {}
func (BinaryOpNode) Kind() NodeKind { return NodeBinaryOp }

type FunctionCallNode struct {
	Name string
	Args []Node
}

func (FunctionCallNode) astNode()        {}
func (FunctionCallNode) Kind() NodeKind { return NodeFunctionCall }

// ArrayLiteralNode is `{a,b;c,d}`: rows of nodes, comma separates columns,
// semicolon separates rows.
type ArrayLiteralNode struct {
	Rows [][]Node
}

func (ArrayLiteralNode) astNode()        {}
func (ArrayLiteralNode) Kind() NodeKind { return NodeArrayLiteral }
