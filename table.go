package formulaengine

import "fmt"

// TableDef is the input shape for addTable: an ordered header list mapping
// header name to column index, and an endRow that may be finite (fixed
// size) or open (grows with data).
type TableDef struct {
	Name       string            `validate:"required,min=1"`
	Sheet      string            `validate:"required,min=1"`
	AnchorRow  int32             `validate:"gte=0"`
	AnchorCol  int32             `validate:"gte=0"`
	Headers    []string          `validate:"required,min=1,dive,required"`
	EndRow     RangeEnd
}

type tableDefinition struct {
	def        TableDef
	columnIdx  map[string]int32
}

// TableDefinitionTable follows an intern-table idiom: tables are looked up
// by name, and structured references resolve through this map into an
// equivalent Range.
type TableDefinitionTable struct {
	byName map[string]*tableDefinition
}

func newTableDefinitionTable() *TableDefinitionTable {
	return &TableDefinitionTable{byName: make(map[string]*tableDefinition)}
}

func (t *TableDefinitionTable) Add(def TableDef) error {
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("invalid table definition: %w", err)
	}
	idx := make(map[string]int32, len(def.Headers))
	for i, h := range def.Headers {
		idx[h] = int32(i)
	}
	t.byName[def.Name] = &tableDefinition{def: def, columnIdx: idx}
	return nil
}

func (t *TableDefinitionTable) Remove(name string) {
	delete(t.byName, name)
}

func (t *TableDefinitionTable) Get(name string) (*tableDefinition, bool) {
	td, ok := t.byName[name]
	return td, ok
}

// ResolveColumns resolves a structured reference's selector+columns into the
// absolute CellRange of the table's data area for those columns. The header
// row itself is excluded for SelectColumn/SelectDataColumn; SelectThisRow
// is resolved by the caller against the formula's own row since that
// context isn't known to the table definition.
func (td *tableDefinition) ResolveColumns(columns []string) (CellRange, *EngineError) {
	if len(columns) == 0 {
		// Whole-table data area.
		startCol := td.def.AnchorCol
		endCol := td.def.AnchorCol + int32(len(td.def.Headers)) - 1
		return CellRange{
			Sheet:    td.def.Sheet,
			StartRow: td.def.AnchorRow + 1,
			StartCol: startCol,
			EndRow:   td.def.EndRow,
			EndCol:   FiniteEnd(endCol),
		}, nil
	}
	first, ok := td.columnIdx[columns[0]]
	if !ok {
		return CellRange{}, NewEngineError(ErrKindRef, "unknown table column "+columns[0])
	}
	last := first
	if len(columns) > 1 {
		idx, ok := td.columnIdx[columns[len(columns)-1]]
		if !ok {
			return CellRange{}, NewEngineError(ErrKindRef, "unknown table column "+columns[len(columns)-1])
		}
		last = idx
	}
	startCol := td.def.AnchorCol + minI32(first, last)
	endCol := td.def.AnchorCol + maxI32(first, last)
	return CellRange{
		Sheet:    td.def.Sheet,
		StartRow: td.def.AnchorRow + 1,
		StartCol: startCol,
		EndRow:   td.def.EndRow,
		EndCol:   FiniteEnd(endCol),
	}, nil
}
