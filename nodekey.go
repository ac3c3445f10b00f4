package formulaengine

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeKey is the canonical, injective ASCII string identifying a dependency
// graph node. It is the codec's wire form; internally the evaluation
// manager is free to intern it, but the codec itself must round-trip
// (decode(encode(n)) == n) per the key round-trip property.
type NodeKey string

// NodeRefKind tags which kind of graph node a decoded key refers to.
type NodeRefKind uint8

const (
	RefCell NodeRefKind = iota
	RefRange
	RefMultiRangeList
	RefMultiRangeContiguous
	RefNamed
	RefTable
)

// NodeRef is the decoded, structured form of a NodeKey.
type NodeRef struct {
	Kind NodeRefKind

	// RefCell / RefRange
	Sheet    string
	StartRow int32
	StartCol int32
	EndRow   RangeEnd
	EndCol   RangeEnd

	// RefMultiRangeList / RefMultiRangeContiguous
	Sheets []string

	// RefNamed
	Scope string // "global" or a sheet name
	Name  string

	// RefTable
	TableSheet string
	TableName  string
	Area       string
}

func EncodeEnd(e RangeEnd) string {
	if e.isOpen() {
		return "INFINITY"
	}
	return strconv.Itoa(int(e.Index))
}

func decodeEnd(s string) (RangeEnd, error) {
	if s == "INFINITY" {
		return InfiniteEnd(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return RangeEnd{}, fmt.Errorf("formulaengine: bad range end %q: %w", s, err)
	}
	return FiniteEnd(int32(n)), nil
}

// EncodeKey deterministically encodes a NodeRef into its canonical string.
func EncodeKey(n NodeRef) NodeKey {
	switch n.Kind {
	case RefCell:
		return NodeKey(fmt.Sprintf("cell:%s:%d:%d", n.Sheet, n.StartRow, n.StartCol))
	case RefRange:
		return NodeKey(fmt.Sprintf("range:%s:%d:%d:%s:%s", n.Sheet, n.StartRow, n.StartCol,
			EncodeEnd(n.EndRow), EncodeEnd(n.EndCol)))
	case RefMultiRangeList:
		return NodeKey(fmt.Sprintf("multi-range:list:%s:%d:%d:%s:%s",
			strings.Join(n.Sheets, ","), n.StartRow, n.StartCol, EncodeEnd(n.EndRow), EncodeEnd(n.EndCol)))
	case RefMultiRangeContiguous:
		first, last := "", ""
		if len(n.Sheets) > 0 {
			first, last = n.Sheets[0], n.Sheets[len(n.Sheets)-1]
		}
		return NodeKey(fmt.Sprintf("multi-range:range:%s-%s:%d:%d:%s:%s",
			first, last, n.StartRow, n.StartCol, EncodeEnd(n.EndRow), EncodeEnd(n.EndCol)))
	case RefNamed:
		return NodeKey(fmt.Sprintf("named:%s:%s", n.Scope, n.Name))
	case RefTable:
		return NodeKey(fmt.Sprintf("table:%s:%s:%s", n.TableSheet, n.TableName, n.Area))
	default:
		return ""
	}
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(k NodeKey) (NodeRef, error) {
	s := string(k)
	switch {
	case strings.HasPrefix(s, "cell:"):
		parts := strings.Split(strings.TrimPrefix(s, "cell:"), ":")
		if len(parts) != 3 {
			return NodeRef{}, fmt.Errorf("formulaengine: malformed cell key %q", s)
		}
		row, err := strconv.Atoi(parts[1])
		if err != nil {
			return NodeRef{}, err
		}
		col, err := strconv.Atoi(parts[2])
		if err != nil {
			return NodeRef{}, err
		}
		return NodeRef{Kind: RefCell, Sheet: parts[0], StartRow: int32(row), StartCol: int32(col)}, nil
	case strings.HasPrefix(s, "range:"):
		parts := strings.Split(strings.TrimPrefix(s, "range:"), ":")
		if len(parts) != 5 {
			return NodeRef{}, fmt.Errorf("formulaengine: malformed range key %q", s)
		}
		row, err := strconv.Atoi(parts[1])
		if err != nil {
			return NodeRef{}, err
		}
		col, err := strconv.Atoi(parts[2])
		if err != nil {
			return NodeRef{}, err
		}
		endRow, err := decodeEnd(parts[3])
		if err != nil {
			return NodeRef{}, err
		}
		endCol, err := decodeEnd(parts[4])
		if err != nil {
			return NodeRef{}, err
		}
		return NodeRef{Kind: RefRange, Sheet: parts[0], StartRow: int32(row), StartCol: int32(col), EndRow: endRow, EndCol: endCol}, nil
	case strings.HasPrefix(s, "multi-range:list:"):
		parts := strings.Split(strings.TrimPrefix(s, "multi-range:list:"), ":")
		if len(parts) != 5 {
			return NodeRef{}, fmt.Errorf("formulaengine: malformed multi-range list key %q", s)
		}
		row, _ := strconv.Atoi(parts[1])
		col, _ := strconv.Atoi(parts[2])
		endRow, err := decodeEnd(parts[3])
		if err != nil {
			return NodeRef{}, err
		}
		endCol, err := decodeEnd(parts[4])
		if err != nil {
			return NodeRef{}, err
		}
		return NodeRef{Kind: RefMultiRangeList, Sheets: strings.Split(parts[0], ","),
			StartRow: int32(row), StartCol: int32(col), EndRow: endRow, EndCol: endCol}, nil
	case strings.HasPrefix(s, "multi-range:range:"):
		parts := strings.Split(strings.TrimPrefix(s, "multi-range:range:"), ":")
		if len(parts) != 5 {
			return NodeRef{}, fmt.Errorf("formulaengine: malformed multi-range contiguous key %q", s)
		}
		sheets := strings.SplitN(parts[0], "-", 2)
		if len(sheets) != 2 {
			return NodeRef{}, fmt.Errorf("formulaengine: malformed sheet span %q", parts[0])
		}
		row, _ := strconv.Atoi(parts[1])
		col, _ := strconv.Atoi(parts[2])
		endRow, err := decodeEnd(parts[3])
		if err != nil {
			return NodeRef{}, err
		}
		endCol, err := decodeEnd(parts[4])
		if err != nil {
			return NodeRef{}, err
		}
		return NodeRef{Kind: RefMultiRangeContiguous, Sheets: sheets,
			StartRow: int32(row), StartCol: int32(col), EndRow: endRow, EndCol: endCol}, nil
	case strings.HasPrefix(s, "named:"):
		parts := strings.SplitN(strings.TrimPrefix(s, "named:"), ":", 2)
		if len(parts) != 2 {
			return NodeRef{}, fmt.Errorf("formulaengine: malformed named key %q", s)
		}
		return NodeRef{Kind: RefNamed, Scope: parts[0], Name: parts[1]}, nil
	case strings.HasPrefix(s, "table:"):
		parts := strings.SplitN(strings.TrimPrefix(s, "table:"), ":", 3)
		if len(parts) != 3 {
			return NodeRef{}, fmt.Errorf("formulaengine: malformed table key %q", s)
		}
		return NodeRef{Kind: RefTable, TableSheet: parts[0], TableName: parts[1], Area: parts[2]}, nil
	default:
		return NodeRef{}, fmt.Errorf("formulaengine: unrecognized node key %q", s)
	}
}

// CellKey is a convenience constructor for the common cell case.
func CellKey(sheet string, row, col int32) NodeKey {
	return EncodeKey(NodeRef{Kind: RefCell, Sheet: sheet, StartRow: row, StartCol: col})
}

// RangeKey is a convenience constructor for the common single-sheet range case.
func RangeKey(sheet string, startRow, startCol int32, endRow, endCol RangeEnd) NodeKey {
	return EncodeKey(NodeRef{Kind: RefRange, Sheet: sheet, StartRow: startRow, StartCol: startCol, EndRow: endRow, EndCol: endCol})
}

// NamedKey is a convenience constructor for named-expression nodes.
func NamedKey(scope, name string) NodeKey {
	if scope == "" {
		scope = "global"
	}
	return EncodeKey(NodeRef{Kind: RefNamed, Scope: scope, Name: name})
}

// TableKey is a convenience constructor for structured-reference area nodes.
// Per DESIGN.md Open Question 4, the key never embeds a literal row bound
// even when the table's endRow is a concrete number: the table's current
// extent is resolved at discovery time, keeping the key stable across
// row insertions.
func TableKey(sheet, name, area string) NodeKey {
	return EncodeKey(NodeRef{Kind: RefTable, TableSheet: sheet, TableName: name, Area: area})
}
