package formulaengine

import (
	"io"

	"github.com/rs/zerolog"
)

// newNopLogger is the default telemetry sink: evaluation proceeds silently
// unless a caller opts in via WithLogger.
func newNopLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// EventKind enumerates the lifecycle events an Engine can publish to
// listeners registered through On.
type EventKind uint8

const (
	EventCellEvaluated EventKind = iota
	EventCycleDetected
	EventSpillPlaced
	EventSpillRejected
	EventSheetAdded
	EventSheetRemoved
	EventTablesUpdated
	EventNamedExpressionsUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventCellEvaluated:
		return "cell-changed"
	case EventCycleDetected:
		return "cycle-detected"
	case EventSpillPlaced:
		return "spill-placed"
	case EventSpillRejected:
		return "spill-rejected"
	case EventSheetAdded:
		return "sheet-added"
	case EventSheetRemoved:
		return "sheet-removed"
	case EventTablesUpdated:
		return "tables-updated"
	case EventNamedExpressionsUpdated:
		return "global-named-expressions-updated"
	default:
		return "unknown"
	}
}

// Event is the payload delivered to a registered listener.
type Event struct {
	Kind EventKind
	Cell CellAddress
	Note string
}

// Listener receives Engine lifecycle events. Registered through Engine.On.
type Listener func(Event)

// listenerRegistry is a minimal pub-sub bundle keyed by a generated id,
// fanning out evaluation manager events to every registered listener.
type listenerRegistry struct {
	byID map[string]Listener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{byID: make(map[string]Listener)}
}

func (r *listenerRegistry) add(id string, l Listener) {
	r.byID[id] = l
}

func (r *listenerRegistry) remove(id string) {
	delete(r.byID, id)
}

func (r *listenerRegistry) publish(e Event) {
	for _, l := range r.byID {
		l(e)
	}
}
