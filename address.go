package formulaengine

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	maxRow = 1 << 20
	maxCol = 1 << 14
)

// CellAddress identifies a single cell within a workbook. Row and column are
// zero-based internally; A1 notation is one-based for rows and bijective
// base-26 for columns.
type CellAddress struct {
	Workbook string
	Sheet    string
	Row      int32
	Col      int32
}

func (a CellAddress) validBounds() bool {
	return a.Row >= 0 && a.Row < maxRow && a.Col >= 0 && a.Col < maxCol
}

// ColumnToLetter converts a zero-based column index to its bijective
// base-26 letter form (0 -> A, 25 -> Z, 26 -> AA, ...). Never returns "".
func ColumnToLetter(col int32) string {
	col++ // shift to 1-based for the bijective algorithm
	var letters []byte
	for col > 0 {
		col--
		letters = append([]byte{byte('A' + col%26)}, letters...)
		col /= 26
	}
	return string(letters)
}

// LetterToColumn is the inverse of ColumnToLetter.
func LetterToColumn(letters string) (int32, error) {
	if letters == "" {
		return 0, fmt.Errorf("formulaengine: empty column letters")
	}
	var col int32
	for i := 0; i < len(letters); i++ {
		c := letters[i]
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("formulaengine: invalid column letter %q", letters)
		}
		col = col*26 + int32(c-'A'+1)
	}
	return col - 1, nil
}

// FormatA1 renders a zero-based (row, col) as canonical A1 notation.
func FormatA1(row, col int32) string {
	return fmt.Sprintf("%s%d", ColumnToLetter(col), row+1)
}

// ParseA1 parses canonical A1 notation (optionally with `$` absoluteness
// markers, which are reported through absCol/absRow) into zero-based
// (row, col).
func ParseA1(s string) (row, col int32, absCol, absRow bool, err error) {
	i := 0
	if i < len(s) && s[i] == '$' {
		absCol = true
		i++
	}
	start := i
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == start {
		return 0, 0, false, false, fmt.Errorf("formulaengine: %q has no column letters", s)
	}
	col, err = LetterToColumn(s[start:i])
	if err != nil {
		return 0, 0, false, false, err
	}
	if i < len(s) && s[i] == '$' {
		absRow = true
		i++
	}
	digitsStart := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == digitsStart || i != len(s) {
		return 0, 0, false, false, fmt.Errorf("formulaengine: %q has malformed row", s)
	}
	n, err := strconv.Atoi(s[digitsStart:i])
	if err != nil {
		return 0, 0, false, false, err
	}
	if n < 1 {
		return 0, 0, false, false, fmt.Errorf("formulaengine: row must be >= 1")
	}
	return int32(n - 1), col, absCol, absRow, nil
}

// RangeEndKind tags whether a range endpoint is a concrete index or open
// ("whole column"/"whole row"/fully-open).
type RangeEndKind uint8

const (
	RangeEndFinite RangeEndKind = iota
	RangeEndInfinite
)

// RangeEnd is `Number(i) | Infinity`, the endpoint of a range axis.
type RangeEnd struct {
	Kind  RangeEndKind
	Index int32 // meaningful only when Kind == RangeEndFinite
}

func FiniteEnd(i int32) RangeEnd { return RangeEnd{Kind: RangeEndFinite, Index: i} }
func InfiniteEnd() RangeEnd      { return RangeEnd{Kind: RangeEndInfinite} }

func (e RangeEnd) isOpen() bool { return e.Kind == RangeEndInfinite }

// CellRange is a single-sheet range with independently-open row/column ends.
type CellRange struct {
	Sheet      string
	StartRow   int32
	StartCol   int32
	EndRow     RangeEnd
	EndCol     RangeEnd
}

// SingleCell reports whether the range collapses to exactly one cell.
func (r CellRange) SingleCell() bool {
	return !r.EndRow.isOpen() && !r.EndCol.isOpen() &&
		r.EndRow.Index == r.StartRow && r.EndCol.Index == r.StartCol
}

// Contains reports whether (row, col) lies within the range.
func (r CellRange) Contains(row, col int32) bool {
	if row < r.StartRow || col < r.StartCol {
		return false
	}
	if !r.EndRow.isOpen() && row > r.EndRow.Index {
		return false
	}
	if !r.EndCol.isOpen() && col > r.EndCol.Index {
		return false
	}
	return true
}

// Overlaps reports whether two ranges on the same sheet share any cell.
func (r CellRange) Overlaps(o CellRange) bool {
	if r.Sheet != o.Sheet {
		return false
	}
	rowsOverlap := r.StartRow <= endOrMax(o.EndRow) && o.StartRow <= endOrMax(r.EndRow)
	colsOverlap := r.StartCol <= endOrMax(o.EndCol) && o.StartCol <= endOrMax(r.EndCol)
	return rowsOverlap && colsOverlap
}

func endOrMax(e RangeEnd) int32 {
	if e.isOpen() {
		return maxRow + maxCol // sentinel large enough for either axis
	}
	return e.Index
}

// Dimensions returns the finite extent of a bounded range, for spill-area
// and array-literal sizing. Callers must not call this on an open range.
func (r CellRange) Dimensions() (rows, cols int32) {
	rows = r.EndRow.Index - r.StartRow + 1
	cols = r.EndCol.Index - r.StartCol + 1
	return
}

// Canonical renders the smallest A1 range form that represents r: finite
// A2:B10, column-open A2:10, row-open A2:B, fully-open A2:INFINITY.
func (r CellRange) Canonical() string {
	start := FormatA1(r.StartRow, r.StartCol)
	if r.SingleCell() {
		return start
	}
	switch {
	case r.EndRow.isOpen() && r.EndCol.isOpen():
		return start + ":INFINITY"
	case r.EndRow.isOpen():
		return fmt.Sprintf("%s:%s", start, ColumnToLetter(r.EndCol.Index))
	case r.EndCol.isOpen():
		return fmt.Sprintf("%s:%d", start, r.EndRow.Index+1)
	default:
		return fmt.Sprintf("%s:%s", start, FormatA1(r.EndRow.Index, r.EndCol.Index))
	}
}

// MultiSheetRange bundles a CellRange with a sheet selector: either an
// explicit list of sheet names or a contiguous [start..end] 3-D reference.
type MultiSheetRange struct {
	Sheets []string // resolved, ordered sheet names
	Range  CellRange
}

// QuoteSheetName applies the `'...'` quoting rule: sheet names with
// non-identifier characters are single-quoted, internal quotes doubled.
func QuoteSheetName(name string) string {
	if isBareIdentifier(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func isBareIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		isAlnum := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_'
		if !isAlnum {
			return false
		}
	}
	return true
}
