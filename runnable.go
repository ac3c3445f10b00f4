package formulaengine

import "fmt"

// RunnableEngine provides a chainable interface over Engine, tracking
// errors internally so a caller can compose several operations without
// checking an error after each one.
type RunnableEngine struct {
	engine  *Engine
	err     error
	printLn func(string)
}

// NewRunnableEngine creates a RunnableEngine. printLn is used by Log and
// CheckError; pass a no-op if logging isn't needed.
func NewRunnableEngine(printLn func(string), opts ...Option) *RunnableEngine {
	return &RunnableEngine{engine: NewEngine(opts...), printLn: printLn}
}

func (r *RunnableEngine) AddWorkbook(name string) *RunnableEngine {
	if r.err != nil {
		return r
	}
	r.err = r.engine.AddWorkbook(name)
	return r
}

func (r *RunnableEngine) AddSheet(workbook, name string) *RunnableEngine {
	if r.err != nil {
		return r
	}
	r.err = r.engine.AddSheet(workbook, name)
	return r
}

func (r *RunnableEngine) Set(workbook, sheet string, row, col int32, content RawContent) *RunnableEngine {
	if r.err != nil {
		return r
	}
	r.err = r.engine.SetCellContent(workbook, sheet, row, col, content)
	return r
}

func (r *RunnableEngine) SetBatch(workbook, sheet string, cells map[[2]int32]RawContent) *RunnableEngine {
	if r.err != nil {
		return r
	}
	for at, content := range cells {
		if err := r.engine.SetCellContent(workbook, sheet, at[0], at[1], content); err != nil {
			r.err = err
			return r
		}
	}
	return r
}

func (r *RunnableEngine) AddNamedExpression(workbook string, def NamedExpressionDef) *RunnableEngine {
	if r.err != nil {
		return r
	}
	r.err = r.engine.AddNamedExpression(workbook, def)
	return r
}

func (r *RunnableEngine) AddTable(workbook string, def TableDef) *RunnableEngine {
	if r.err != nil {
		return r
	}
	r.err = r.engine.AddTable(workbook, def)
	return r
}

// Value is a helper to read a single scalar out of the chain, matching the
// usual value := chain.Set(...).Value(...) usage pattern.
func (r *RunnableEngine) Value(workbook, sheet string, row, col int32) any {
	if r.err != nil {
		return nil
	}
	v, err := r.engine.GetCellValue(workbook, sheet, row, col, false)
	if err != nil {
		r.err = err
		return nil
	}
	return v
}

func (r *RunnableEngine) Then(fn func(*RunnableEngine) *RunnableEngine) *RunnableEngine {
	if r.err != nil {
		return r
	}
	return fn(r)
}

func (r *RunnableEngine) OnError(fn func(error) error) *RunnableEngine {
	if r.err != nil {
		r.err = fn(r.err)
	}
	return r
}

func (r *RunnableEngine) Must() *RunnableEngine {
	if r.err != nil {
		panic(r.err)
	}
	return r
}

func (r *RunnableEngine) If(condition bool, fn func(*RunnableEngine) *RunnableEngine) *RunnableEngine {
	if r.err != nil || !condition {
		return r
	}
	return fn(r)
}

func (r *RunnableEngine) ForEach(startRow, endRow, startCol, endCol int32, fn func(row, col int32, r *RunnableEngine)) *RunnableEngine {
	if r.err != nil {
		return r
	}
	for row := startRow; row <= endRow; row++ {
		for col := startCol; col <= endCol; col++ {
			fn(row, col, r)
			if r.err != nil {
				return r
			}
		}
	}
	return r
}

func (r *RunnableEngine) Log(workbook, sheet string, row, col int32) *RunnableEngine {
	if r.err != nil {
		return r
	}
	v, err := r.engine.GetCellValue(workbook, sheet, row, col, true)
	if err != nil {
		r.err = err
		return r
	}
	r.printLn(fmt.Sprintf("%s!%s: %v", sheet, FormatA1(row, col), v))
	return r
}

func (r *RunnableEngine) CheckError() *RunnableEngine {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

func (r *RunnableEngine) Error() error { return r.err }

func (r *RunnableEngine) Engine() *Engine { return r.engine }

func (r *RunnableEngine) Run() (*Engine, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.engine, nil
}

func (r *RunnableEngine) RunOrPanic() *Engine {
	engine, err := r.Run()
	if err != nil {
		panic(err)
	}
	return engine
}
