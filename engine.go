package formulaengine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the public entry point: it combines workbook storage, the
// function registry, and the evaluation manager into a single API spanning
// multiple independently addressable workbooks.
type Engine struct {
	store   *workbookStore
	manager *Manager
	log     zerolog.Logger
}

// Option configures an Engine at construction time, in place of a config
// file or environment variables.
type Option func(*engineConfig)

type engineConfig struct {
	logger zerolog.Logger
}

// WithLogger installs a zerolog logger for evaluation lifecycle events.
// The default is a no-op sink.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *engineConfig) { c.logger = logger }
}

// NewEngine constructs an empty Engine with no workbooks.
func NewEngine(opts ...Option) *Engine {
	cfg := engineConfig{logger: newNopLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	store := newWorkbookStore()
	registry := newFunctionRegistry()
	manager := newManager(store, registry, cfg.logger)
	return &Engine{store: store, manager: manager, log: cfg.logger}
}

func (e *Engine) AddWorkbook(name string) error {
	if _, err := e.store.addWorkbook(name); err != nil {
		return wrapAppError(CodeAlreadyExists, err)
	}
	return nil
}

func (e *Engine) RemoveWorkbook(name string) error {
	if err := e.store.removeWorkbook(name); err != nil {
		return wrapAppError(CodeNotFound, err)
	}
	e.manager.clearEvaluationCache()
	return nil
}

func (e *Engine) AddSheet(workbook, name string) error {
	wb, ok := e.store.getWorkbook(workbook)
	if !ok {
		return NewAppError(CodeNotFound, "unknown workbook "+workbook)
	}
	if _, err := wb.addSheet(name); err != nil {
		return wrapAppError(CodeAlreadyExists, err)
	}
	e.manager.listeners.publish(Event{Kind: EventSheetAdded, Cell: CellAddress{Workbook: workbook, Sheet: name}})
	return nil
}

func (e *Engine) RemoveSheet(workbook, name string) error {
	wb, ok := e.store.getWorkbook(workbook)
	if !ok {
		return NewAppError(CodeNotFound, "unknown workbook "+workbook)
	}
	if err := wb.removeSheet(name); err != nil {
		return wrapAppError(CodeNotFound, err)
	}
	e.manager.clearEvaluationCache()
	e.manager.listeners.publish(Event{Kind: EventSheetRemoved, Cell: CellAddress{Workbook: workbook, Sheet: name}})
	return nil
}

func (e *Engine) RenameSheet(workbook, oldName, newName string) error {
	wb, ok := e.store.getWorkbook(workbook)
	if !ok {
		return NewAppError(CodeNotFound, "unknown workbook "+workbook)
	}
	if err := wb.renameSheet(oldName, newName); err != nil {
		return wrapAppError(CodeFailedPrecondition, err)
	}
	e.manager.clearEvaluationCache()
	return nil
}

// SetCellContent stores raw content (nil, float64, bool, or a string —
// formulas are strings prefixed with `=`) at an address and invalidates any
// cached result depending on it.
func (e *Engine) SetCellContent(workbook, sheet string, row, col int32, content RawContent) error {
	addr := CellAddress{Workbook: workbook, Sheet: sheet, Row: row, Col: col}
	if !addr.validBounds() {
		return NewAppError(CodeOutOfRange, "address out of bounds")
	}
	if err := e.store.setCellContent(addr, content); err != nil {
		return wrapAppError(CodeNotFound, err)
	}
	e.manager.noteRawContentChanged(addr)
	return nil
}

// SetSheetContent is the bulk-write counterpart of SetCellContent: every
// entry is applied and its dependents invalidated. a1 keys must be
// canonical A1 references (e.g. "B7"); the first error aborts the batch
// with whatever cells were already written left in place, matching
// setCellContent's own all-or-nothing-per-cell semantics.
func (e *Engine) SetSheetContent(workbook, sheet string, cells map[string]RawContent) error {
	for a1, content := range cells {
		row, col, _, _, perr := ParseA1(a1)
		if perr != nil {
			return NewAppError(CodeInvalidArgument, "malformed A1 reference "+a1)
		}
		if err := e.SetCellContent(workbook, sheet, row, col, content); err != nil {
			return err
		}
	}
	return nil
}

// GetCellValue evaluates (if needed) and serializes the value at an
// address. debug controls whether an error result includes its message.
func (e *Engine) GetCellValue(workbook, sheet string, row, col int32, debug bool) (any, error) {
	addr := CellAddress{Workbook: workbook, Sheet: sheet, Row: row, Col: col}
	if !addr.validBounds() {
		return nil, NewAppError(CodeOutOfRange, "address out of bounds")
	}
	if e.manager.isDisplayEmpty(addr) {
		return "", nil
	}
	result := e.manager.getCellEvaluationResult(addr)
	switch result.Kind {
	case ResultError:
		return result.Err.Serialize(debug), nil
	case ResultSpilled:
		v, err := result.AsScalar()
		if err != nil {
			return err.Serialize(debug), nil
		}
		return v.Serialize(), nil
	default:
		return result.Value.Serialize(), nil
	}
}

func (e *Engine) AddNamedExpression(workbook string, def NamedExpressionDef) error {
	wb, ok := e.store.getWorkbook(workbook)
	if !ok {
		return NewAppError(CodeNotFound, "unknown workbook "+workbook)
	}
	if err := wb.namedExprs.Define(def); err != nil {
		return wrapAppError(CodeInvalidArgument, err)
	}
	e.manager.clearEvaluationCache()
	e.manager.listeners.publish(Event{Kind: EventNamedExpressionsUpdated, Cell: CellAddress{Workbook: workbook}, Note: def.Name})
	return nil
}

func (e *Engine) RemoveNamedExpression(workbook, scope, name string) error {
	wb, ok := e.store.getWorkbook(workbook)
	if !ok {
		return NewAppError(CodeNotFound, "unknown workbook "+workbook)
	}
	wb.namedExprs.Undefine(scope, name)
	e.manager.clearEvaluationCache()
	e.manager.listeners.publish(Event{Kind: EventNamedExpressionsUpdated, Cell: CellAddress{Workbook: workbook}, Note: name})
	return nil
}

func (e *Engine) AddTable(workbook string, def TableDef) error {
	wb, ok := e.store.getWorkbook(workbook)
	if !ok {
		return NewAppError(CodeNotFound, "unknown workbook "+workbook)
	}
	if err := wb.tables.Add(def); err != nil {
		return wrapAppError(CodeInvalidArgument, err)
	}
	e.manager.clearEvaluationCache()
	e.manager.listeners.publish(Event{Kind: EventTablesUpdated, Cell: CellAddress{Workbook: workbook, Sheet: def.Sheet}, Note: def.Name})
	return nil
}

func (e *Engine) RemoveTable(workbook, name string) error {
	wb, ok := e.store.getWorkbook(workbook)
	if !ok {
		return NewAppError(CodeNotFound, "unknown workbook "+workbook)
	}
	wb.tables.Remove(name)
	e.manager.clearEvaluationCache()
	e.manager.listeners.publish(Event{Kind: EventTablesUpdated, Cell: CellAddress{Workbook: workbook}, Note: name})
	return nil
}

// RegisterFunction plugs a named function into the engine's function
// registry: the core depends on no concrete function beyond the operators
// that exercise array lifting, so callers add their own under a
// case-insensitive name.
func (e *Engine) RegisterFunction(name string, fn Fn) {
	e.manager.registry.register(name, fn)
}

// On registers a listener for evaluation lifecycle events and returns an id
// that can be passed to Off.
func (e *Engine) On(listener Listener) uuid.UUID {
	id := uuid.New()
	e.manager.listeners.add(id.String(), listener)
	return id
}

func (e *Engine) Off(id uuid.UUID) {
	e.manager.listeners.remove(id.String())
}

func (e *Engine) ClearEvaluationCache() {
	e.manager.clearEvaluationCache()
}

func (e *Engine) String() string {
	return fmt.Sprintf("Engine{workbooks=%d}", len(e.store.workbooks))
}
