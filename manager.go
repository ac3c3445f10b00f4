package formulaengine

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// EvaluatedNode is the cache entry for one evaluated node: the set of
// concrete precedents touched, the frontier precedents discovered but
// deferred, and the last result. Invalidation is all-or-nothing — a node
// mentioning a changed key in either set is dropped outright, not patched —
// so a re-evaluation always rebuilds both sets from scratch rather than
// needing to remember which frontier entries a previous pass discarded.
type EvaluatedNode struct {
	Deps                 map[NodeKey]struct{}
	FrontierDependencies map[NodeKey]struct{}
	Result               EvalResult
	HasResult            bool
}

// SpillRecord is the authoritative record of one formula's dynamic-array
// expansion.
type SpillRecord struct {
	Origin CellAddress
	Area   CellRange
}

const maxReevaluationPasses = 8

// Manager is the evaluation manager. It owns evaluatedNodes and
// spilledValues, enforces the isEvaluating guard, and implements the
// two-phase discovery-then-evaluate algorithm.
type Manager struct {
	store         *workbookStore
	registry      *FunctionRegistry
	log           zerolog.Logger
	isEvaluating  bool
	evaluatedNodes map[NodeKey]*EvaluatedNode
	spilledValues  map[NodeKey]*SpillRecord // keyed by origin cell's NodeKey
	listeners      *listenerRegistry
}

func newManager(store *workbookStore, registry *FunctionRegistry, log zerolog.Logger) *Manager {
	return &Manager{
		store:          store,
		registry:       registry,
		log:            log,
		evaluatedNodes: make(map[NodeKey]*EvaluatedNode),
		spilledValues:  make(map[NodeKey]*SpillRecord),
		listeners:      newListenerRegistry(),
	}
}

func (m *Manager) clearEvaluationCache() {
	m.evaluatedNodes = make(map[NodeKey]*EvaluatedNode)
	m.spilledValues = make(map[NodeKey]*SpillRecord)
}

// invalidate drops the cached result of every node whose deps or frontier
// set mention key, transitively, used after a raw-content mutation.
func (m *Manager) invalidate(key NodeKey) {
	dirty := map[NodeKey]bool{key: true}
	changed := true
	for changed {
		changed = false
		for nk, node := range m.evaluatedNodes {
			if dirty[nk] {
				continue
			}
			if mentions(node.Deps, dirty) || mentions(node.FrontierDependencies, dirty) {
				dirty[nk] = true
				changed = true
			}
		}
	}
	for nk := range dirty {
		delete(m.evaluatedNodes, nk)
	}
}

// noteRawContentChanged invalidates the normal dependency chain rooted at
// addr and also breaks any other formula's spill currently occupying addr:
// a direct write into a spilled-into cell can
// never coexist with that spill, so the origin must recompute and report
// #SPILL! rather than keep serving its now-stale cached array.
func (m *Manager) noteRawContentChanged(addr CellAddress) {
	key := cellAddrKey(addr)
	m.invalidate(key)
	if spill, ok := m.coveringSpill(addr); ok {
		originKey := cellAddrKey(spill.Origin)
		delete(m.spilledValues, originKey)
		m.invalidate(originKey)
		m.invalidateArea(spill.Area)
	}
}

func mentions(set map[NodeKey]struct{}, dirty map[NodeKey]bool) bool {
	for k := range set {
		if dirty[k] {
			return true
		}
	}
	return false
}

// getCellEvaluationResult triggers evaluation as needed and returns a
// single-cell EvalResult for addr.
func (m *Manager) getCellEvaluationResult(addr CellAddress) EvalResult {
	if err := m.evaluateCell(addr); err != nil {
		return ErrorResult(NewEngineError(ErrKindError, err.Error()))
	}
	key := cellAddrKey(addr)
	node, ok := m.evaluatedNodes[key]
	if !ok || !node.HasResult {
		return ValueResult(Value{})
	}
	return node.Result
}

func cellAddrKey(addr CellAddress) NodeKey {
	return CellKey(sheetScope(addr.Workbook, addr.Sheet), addr.Row, addr.Col)
}

func sheetScope(book, sheet string) string {
	if book == "" {
		return sheet
	}
	return book + "|" + sheet
}

// resultForCell is called by the evaluator whenever a Reference/Range node
// consults a specific cell. It records the dependency, redirects to an
// active spill if the cell sits inside one, and otherwise returns the
// cell's current cached (already-evaluated, by topological order) result.
func (m *Manager) resultForCell(addr CellAddress, ctx *EvalContext) EvalResult {
	key := cellAddrKey(addr)
	ctx.touch(key)

	if spill, ok := m.coveringSpill(addr); ok {
		return spill.relativeResult(m, addr)
	}

	node, ok := m.evaluatedNodes[key]
	if !ok || !node.HasResult {
		// Not yet in the topological order for this pass (forward reference
		// during discovery, or a genuinely unevaluated precedent): treat its
		// raw content literally rather than recursing into evaluateCell.
		return m.literalResult(addr)
	}
	return node.Result
}

// coveringSpill reports the active SpillRecord (if any, other than addr's
// own) whose area contains addr. Placement already guarantees any such addr
// holds empty raw content, so a covered cell must always resolve through
// the spill rather than its own content.
func (m *Manager) coveringSpill(addr CellAddress) (*SpillRecord, bool) {
	for _, spill := range m.spilledValues {
		if spill.Origin == addr {
			continue
		}
		if spill.Area.Sheet == addr.Sheet && spill.Area.Contains(addr.Row, addr.Col) {
			return spill, true
		}
	}
	return nil, false
}

func (s *SpillRecord) relativeResult(m *Manager, addr CellAddress) EvalResult {
	key := cellAddrKey(s.Origin)
	node, ok := m.evaluatedNodes[key]
	if !ok || !node.HasResult || node.Result.Kind != ResultSpilled {
		return ErrorResult(NewEngineError(ErrKindRef, "spill origin has no cached result"))
	}
	return node.Result.Spill.At(addr.Row-s.Origin.Row, addr.Col-s.Origin.Col)
}

// isDisplayEmpty reports whether addr has never been written to and isn't
// currently occupied by another formula's spill. classifyRaw treats a blank
// cell as Number(0) so arithmetic over it behaves conventionally, but a
// direct read of a truly untouched cell displays as "" rather than 0.
func (m *Manager) isDisplayEmpty(addr CellAddress) bool {
	if _, ok := m.coveringSpill(addr); ok {
		return false
	}
	return m.store.getCellContent(addr) == nil
}

// literalResult reads raw content directly, for use when a precedent has
// not been cached yet (discovery-time forward peek).
func (m *Manager) literalResult(addr CellAddress) EvalResult {
	raw := m.store.getCellContent(addr)
	v, isFormula, err := classifyRaw(raw)
	if err != nil {
		return ErrorResult(err)
	}
	if isFormula {
		return ValueResult(Value{})
	}
	return ValueResult(v)
}

func classifyRaw(raw RawContent) (Value, bool, *EngineError) {
	switch v := raw.(type) {
	case nil:
		return NumberValue(0), false, nil
	case float64:
		return NumberValue(v), false, nil
	case bool:
		return BooleanValue(v), false, nil
	case string:
		if strings.HasPrefix(v, "=") {
			return Value{}, true, nil
		}
		return StringValue(v), false, nil
	default:
		return Value{}, false, NewEngineError(ErrKindValue, "unsupported raw content type")
	}
}

func (m *Manager) resultForNamed(book, scope, name string, ctx *EvalContext) EvalResult {
	key := NamedKey(scope, name)
	ctx.touch(key)
	node, ok := m.evaluatedNodes[key]
	if !ok || !node.HasResult {
		return m.evaluateNamedNow(book, scope, name)
	}
	return node.Result
}

func (m *Manager) evaluateNamedNow(book, scope, name string) EvalResult {
	wb, ok := m.store.getWorkbook(book)
	if !ok {
		return ErrorResult(NewEngineError(ErrKindRef, "unknown workbook"))
	}
	ast, ok := wb.namedExprs.Lookup(scope, name)
	if !ok {
		return ErrorResult(NewEngineError(ErrKindRef, "undefined name "+name))
	}
	home := CellAddress{Workbook: book, Sheet: scope}
	ctx := newEvalContext(home)
	ev := newEvaluator(m, home, ctx)
	result := ev.Eval(ast)
	key := NamedKey(scope, name)
	m.evaluatedNodes[key] = &EvaluatedNode{Deps: ctx.Dependencies, FrontierDependencies: ctx.FrontierDependencies,
		Result: result, HasResult: true}
	return result
}

// concreteRangeArea resolves open range endpoints against currently
// occupied cells with a single sweep over the sheet's content; there is no
// separate dense/sparse range index.
func (m *Manager) concreteRangeArea(book string, r CellRange) CellRange {
	if !r.EndRow.isOpen() && !r.EndCol.isOpen() {
		return r
	}
	wb, ok := m.store.getWorkbook(book)
	if !ok {
		return r
	}
	sheet, ok := wb.getSheet(r.Sheet)
	if !ok {
		return r
	}
	maxRow, maxCol := r.StartRow-1, r.StartCol-1
	for a1 := range sheet.content {
		row, col, _, _, err := ParseA1(a1)
		if err != nil {
			continue
		}
		if row < r.StartRow || col < r.StartCol {
			continue
		}
		if !r.EndRow.isOpen() && row > r.EndRow.Index {
			continue
		}
		if !r.EndCol.isOpen() && col > r.EndCol.Index {
			continue
		}
		if row > maxRow {
			maxRow = row
		}
		if col > maxCol {
			maxCol = col
		}
	}
	out := r
	if r.EndRow.isOpen() {
		out.EndRow = FiniteEnd(maxRow)
	}
	if r.EndCol.isOpen() {
		out.EndCol = FiniteEnd(maxCol)
	}
	return out
}

// evaluateCell is the imperative entry point: discover dependencies, order
// them topologically, evaluate bottom-up, place any spill, and repeat until
// no node goes stale, bounded by maxReevaluationPasses.
func (m *Manager) evaluateCell(addr CellAddress) error {
	if m.isEvaluating {
		return fmt.Errorf("formulaengine: evaluation in progress")
	}
	m.isEvaluating = true
	defer func() { m.isEvaluating = false }()

	key := cellAddrKey(addr)

	for pass := 0; pass < maxReevaluationPasses; pass++ {
		// A cell inside another formula's spill area reads that spill's
		// slice, never its own (necessarily empty) raw content.
		if spill, ok := m.coveringSpill(addr); ok {
			m.evaluatedNodes[key] = &EvaluatedNode{
				Deps:      map[NodeKey]struct{}{cellAddrKey(spill.Origin): {}},
				Result:    spill.relativeResult(m, addr),
				HasResult: true,
			}
			return nil
		}
		raw := m.store.getCellContent(addr)
		v, isFormula, classifyErr := classifyRaw(raw)
		if classifyErr != nil {
			m.evaluatedNodes[key] = &EvaluatedNode{Result: ErrorResult(classifyErr), HasResult: true}
			return nil
		}
		if !isFormula {
			m.evaluatedNodes[key] = &EvaluatedNode{Result: ValueResult(v), HasResult: true}
			return nil
		}

		ast, parseErr := ParseFormula(strings.TrimPrefix(raw.(string), "="))
		if parseErr != nil {
			m.evaluatedNodes[key] = &EvaluatedNode{Result: ErrorResult(parseErr), HasResult: true}
			return nil
		}

		discovered := m.discoverDeps(addr, ast)
		edges := m.transitiveEdges(addr, ast, discovered)

		pass2, err := runCyclePass(edges)
		if err != nil {
			return err
		}
		if pass2.cycleMembers[key] {
			m.markCycleMembers(pass2.cycleMembers)
			m.listeners.publish(Event{Kind: EventCycleDetected, Cell: addr})
			return nil
		}

		for _, nk := range pass2.order {
			if nk == key {
				continue
			}
			if _, already := m.evaluatedNodes[nk]; already {
				continue
			}
			m.evaluateDependencyNode(nk)
		}

		ctx := newEvalContext(addr)
		ev := newEvaluator(m, addr, ctx)
		result := ev.Eval(ast)
		result, requiresRerun := m.placeSpillIfAny(key, addr, result)

		prev, hadPrev := m.evaluatedNodes[key]
		if hadPrev && !sameKeySet(prev.Deps, ctx.Dependencies) {
			requiresRerun = true
		}

		m.evaluatedNodes[key] = &EvaluatedNode{
			Deps: ctx.Dependencies, FrontierDependencies: ctx.FrontierDependencies,
			Result: result, HasResult: true,
		}

		if !requiresRerun {
			m.listeners.publish(Event{Kind: EventCellEvaluated, Cell: addr})
			return nil
		}
		m.log.Debug().Str("cell", string(key)).Int("pass", pass).Msg("re-run required")
	}

	m.log.Warn().Str("cell", string(key)).Msg("fixed-point re-run bound exceeded")
	m.evaluatedNodes[key] = &EvaluatedNode{
		Result:    ErrorResult(NewEngineError(ErrKindError, "evaluation did not converge")),
		HasResult: true,
	}
	return nil
}

// evaluateDependencyNode evaluates a single non-target node discovered
// during the topological pass.
func (m *Manager) evaluateDependencyNode(key NodeKey) {
	ref, err := DecodeKey(key)
	if err != nil {
		m.evaluatedNodes[key] = &EvaluatedNode{Result: ErrorResult(NewEngineError(ErrKindError, err.Error())), HasResult: true}
		return
	}
	switch ref.Kind {
	case RefCell:
		book, sheet := splitScope(ref.Sheet)
		addr := CellAddress{Workbook: book, Sheet: sheet, Row: ref.StartRow, Col: ref.StartCol}
		if spill, ok := m.coveringSpill(addr); ok {
			m.evaluatedNodes[key] = &EvaluatedNode{
				Deps:      map[NodeKey]struct{}{cellAddrKey(spill.Origin): {}},
				Result:    spill.relativeResult(m, addr),
				HasResult: true,
			}
			return
		}
		raw := m.store.getCellContent(addr)
		v, isFormula, classifyErr := classifyRaw(raw)
		if classifyErr != nil {
			m.evaluatedNodes[key] = &EvaluatedNode{Result: ErrorResult(classifyErr), HasResult: true}
			return
		}
		if !isFormula {
			m.evaluatedNodes[key] = &EvaluatedNode{Result: ValueResult(v), HasResult: true}
			return
		}
		ast, parseErr := ParseFormula(strings.TrimPrefix(raw.(string), "="))
		if parseErr != nil {
			m.evaluatedNodes[key] = &EvaluatedNode{Result: ErrorResult(parseErr), HasResult: true}
			return
		}
		ctx := newEvalContext(addr)
		ev := newEvaluator(m, addr, ctx)
		result := ev.Eval(ast)
		result, _ = m.placeSpillIfAny(key, addr, result)
		m.evaluatedNodes[key] = &EvaluatedNode{Deps: ctx.Dependencies, FrontierDependencies: ctx.FrontierDependencies,
			Result: result, HasResult: true}
	case RefNamed:
		book := m.homeBookForScope(ref.Scope)
		m.evaluateNamedNow(book, ref.Scope, ref.Name)
	default:
		// Range/multi-range/table nodes have no raw content of their own;
		// they are resolved live through their constituent cells, which are
		// already ordered ahead of them in the topological pass.
	}
}

// homeBookForScope is a documented simplification: named expressions are
// resolved within the single workbook that defined them, and since this
// engine's public surface keys named-expression evaluation by the
// requesting cell's own workbook, a dependency-node evaluation of a named
// key reuses the first workbook added to the store. Multi-workbook named expressions are out
// of scope for the seed scenarios.
func (m *Manager) homeBookForScope(scope string) string {
	if len(m.store.order) > 0 {
		return m.store.order[0]
	}
	_ = scope
	return ""
}

func splitScope(scope string) (book, sheet string) {
	if idx := strings.IndexByte(scope, '|'); idx >= 0 {
		return scope[:idx], scope[idx+1:]
	}
	return "", scope
}

func sameKeySet(a, b map[NodeKey]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (m *Manager) markCycleMembers(members map[NodeKey]bool) {
	cycleErr := NewEngineError(ErrKindCycle, "cell participates in a dependency cycle")
	for key, isMember := range members {
		if !isMember {
			continue
		}
		m.evaluatedNodes[key] = &EvaluatedNode{Result: ErrorResult(cycleErr), HasResult: true}
	}
}

// discoverDeps performs the dependency-discovery pass: a throwaway
// evaluation that records every reference the formula would consult,
// without recursing through evaluateCell for each one.
func (m *Manager) discoverDeps(addr CellAddress, ast Node) map[NodeKey]struct{} {
	ctx := newEvalContext(addr)
	ev := newEvaluator(m, addr, ctx)
	ev.Eval(ast)
	return ctx.Dependencies
}

// transitiveEdges expands the discovered set into a full edge map suitable
// for cycle detection and topological ordering: for every discovered cell
// or named-expression node, recursively discover its own dependencies too
// (using the cached AST where available).
func (m *Manager) transitiveEdges(root CellAddress, rootAST Node, discovered map[NodeKey]struct{}) map[NodeKey]map[NodeKey]struct{} {
	edges := make(map[NodeKey]map[NodeKey]struct{})
	rootKey := cellAddrKey(root)
	edges[rootKey] = discovered

	visited := map[NodeKey]bool{rootKey: true}
	var queue []NodeKey
	for k := range discovered {
		queue = append(queue, k)
	}

	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if visited[k] {
			continue
		}
		visited[k] = true

		ref, err := DecodeKey(k)
		if err != nil {
			continue
		}
		var deps map[NodeKey]struct{}
		switch ref.Kind {
		case RefCell:
			book, sheet := splitScope(ref.Sheet)
			addr := CellAddress{Workbook: book, Sheet: sheet, Row: ref.StartRow, Col: ref.StartCol}
			raw := m.store.getCellContent(addr)
			if s, ok := raw.(string); ok && strings.HasPrefix(s, "=") {
				ast, perr := ParseFormula(strings.TrimPrefix(s, "="))
				if perr == nil {
					deps = m.discoverDeps(addr, ast)
				}
			}
		case RefNamed:
			book := m.homeBookForScope(ref.Scope)
			if wb, ok := m.store.getWorkbook(book); ok {
				if ast, ok := wb.namedExprs.Lookup(ref.Scope, ref.Name); ok {
					home := CellAddress{Workbook: book, Sheet: ref.Scope}
					deps = m.discoverDeps(home, ast)
				}
			}
		}
		if deps != nil {
			edges[k] = deps
			for dk := range deps {
				if !visited[dk] {
					queue = append(queue, dk)
				}
			}
		} else if _, exists := edges[k]; !exists {
			edges[k] = map[NodeKey]struct{}{}
		}
	}
	return edges
}

// placeSpillIfAny checks a computed spill's destination for exclusivity
// against static content and other spills, commits or rejects, and
// invalidates affected nodes. Returns the (possibly error-replaced)
// result to cache, and whether placing/rejecting the spill means the outer
// loop must re-run because the set of stale nodes changed.
func (m *Manager) placeSpillIfAny(key NodeKey, origin CellAddress, result EvalResult) (EvalResult, bool) {
	oldSpill, hadSpill := m.spilledValues[key]

	if result.Kind != ResultSpilled || result.Spill.Area.SingleCell() {
		if hadSpill {
			delete(m.spilledValues, key)
			m.invalidateArea(oldSpill.Area)
			return result, true
		}
		return result, false
	}

	// The computed result's own Area describes where its *source* data lives
	// (e.g. the A1:A3 being read), not where the spill destination is: a
	// spill always expands from the formula's own cell. Project the
	// result's dimensions onto origin to get the actual destination
	// rectangle; SpilledResult.At is offset-based and therefore indifferent
	// to this re-anchoring.
	if result.Spill.Area.EndRow.isOpen() || result.Spill.Area.EndCol.isOpen() {
		changed := m.rejectSpill(key, hadSpill, oldSpill)
		return ErrorResult(NewEngineError(ErrKindSpill, "spill result has unbounded dimensions")), changed
	}
	rows, cols := result.Spill.Area.Dimensions()
	area := CellRange{
		Sheet:    origin.Sheet,
		StartRow: origin.Row, StartCol: origin.Col,
		EndRow: FiniteEnd(origin.Row + rows - 1), EndCol: FiniteEnd(origin.Col + cols - 1),
	}

	for r := area.StartRow; r <= area.EndRow.Index; r++ {
		for c := area.StartCol; c <= area.EndCol.Index; c++ {
			if r == origin.Row && c == origin.Col {
				continue
			}
			addr := CellAddress{Workbook: origin.Workbook, Sheet: area.Sheet, Row: r, Col: c}
			if !m.store.isEmptyCell(addr) {
				changed := m.rejectSpill(key, hadSpill, oldSpill)
				m.listeners.publish(Event{Kind: EventSpillRejected, Cell: origin, Note: "blocked by non-empty cell"})
				return ErrorResult(NewEngineError(ErrKindSpill, "spill blocked by non-empty cell")), changed
			}
		}
	}
	for otherKey, other := range m.spilledValues {
		if otherKey == key {
			continue
		}
		if other.Area.Overlaps(area) {
			changed := m.rejectSpill(key, hadSpill, oldSpill)
			m.listeners.publish(Event{Kind: EventSpillRejected, Cell: origin, Note: "blocked by another spill"})
			return ErrorResult(NewEngineError(ErrKindSpill, "spill blocked by another spill")), changed
		}
	}

	m.spilledValues[key] = &SpillRecord{Origin: origin, Area: area}
	changed := !hadSpill || !sameArea(oldSpill.Area, area)
	if changed {
		m.invalidateArea(area)
		if hadSpill {
			m.invalidateArea(oldSpill.Area)
		}
		m.listeners.publish(Event{Kind: EventSpillPlaced, Cell: origin, Note: area.Canonical()})
	}
	return result, changed
}

func (m *Manager) rejectSpill(key NodeKey, hadSpill bool, oldSpill *SpillRecord) bool {
	if hadSpill {
		delete(m.spilledValues, key)
		m.invalidateArea(oldSpill.Area)
		return true
	}
	return false
}

func sameArea(a, b CellRange) bool {
	return a.Sheet == b.Sheet && a.StartRow == b.StartRow && a.StartCol == b.StartCol &&
		a.EndRow == b.EndRow && a.EndCol == b.EndCol
}

// invalidateArea marks stale every previously evaluated node whose deps or
// frontierDependencies reference a cell inside area. The area carries no
// workbook, so the cells of that sheet name are invalidated in every
// workbook.
func (m *Manager) invalidateArea(area CellRange) {
	for r := area.StartRow; !area.EndRow.isOpen() && r <= area.EndRow.Index; r++ {
		for c := area.StartCol; !area.EndCol.isOpen() && c <= area.EndCol.Index; c++ {
			for book := range m.store.workbooks {
				m.invalidate(cellAddrKey(CellAddress{Workbook: book, Sheet: area.Sheet, Row: r, Col: c}))
			}
		}
	}
}

