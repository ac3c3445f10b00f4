package formulaengine

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// NamedExpressionDef is the input shape for addNamedExpression: expression
// is a formula string without the leading `=`.
type NamedExpressionDef struct {
	Scope      string `validate:"omitempty"` // "" or "global" resolves to the global scope
	Name       string `validate:"required,min=1"`
	Expression string `validate:"required,min=1"`
}

// namedExpression is the interned, parsed form of a NamedExpressionDef.
type namedExpression struct {
	scope      string
	name       string
	expression string
	ast        Node
}

// NamedExpressionTable follows an intern-table idiom
// (map[name]entry + refCounts for formulas consuming it), adapted to key on
// (scope, name) rather than a single string. Entries intern their parsed
// AST once, at definition time.
type NamedExpressionTable struct {
	byKey     map[string]*namedExpression // key = scope + "\x00" + name
	consumers map[string]map[NodeKey]struct{}
}

func newNamedExpressionTable() *NamedExpressionTable {
	return &NamedExpressionTable{
		byKey:     make(map[string]*namedExpression),
		consumers: make(map[string]map[NodeKey]struct{}),
	}
}

func namedExprMapKey(scope, name string) string {
	if scope == "" {
		scope = "global"
	}
	return scope + "\x00" + name
}

func (t *NamedExpressionTable) Define(def NamedExpressionDef) error {
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("invalid named expression definition: %w", err)
	}
	ast, perr := ParseFormula(def.Expression)
	if perr != nil {
		return fmt.Errorf("named expression %q: %w", def.Name, perr)
	}
	scope := def.Scope
	if scope == "" {
		scope = "global"
	}
	t.byKey[namedExprMapKey(scope, def.Name)] = &namedExpression{
		scope: scope, name: def.Name, expression: def.Expression, ast: ast,
	}
	return nil
}

func (t *NamedExpressionTable) Undefine(scope, name string) {
	key := namedExprMapKey(scope, name)
	delete(t.byKey, key)
	delete(t.consumers, key)
}

// Lookup resolves a name using scope-then-global precedence: a sheet-scoped
// definition shadows a global one of the same name.
func (t *NamedExpressionTable) Lookup(scope, name string) (Node, bool) {
	if scope != "" {
		if e, ok := t.byKey[namedExprMapKey(scope, name)]; ok {
			return e.ast, true
		}
	}
	if e, ok := t.byKey[namedExprMapKey("global", name)]; ok {
		return e.ast, true
	}
	return nil, false
}

func (t *NamedExpressionTable) AddConsumer(scope, name string, consumer NodeKey) {
	key := namedExprMapKey(scope, name)
	if t.consumers[key] == nil {
		t.consumers[key] = make(map[NodeKey]struct{})
	}
	t.consumers[key][consumer] = struct{}{}
}

func (t *NamedExpressionTable) Clear() {
	t.byKey = make(map[string]*namedExpression)
	t.consumers = make(map[string]map[NodeKey]struct{})
}
