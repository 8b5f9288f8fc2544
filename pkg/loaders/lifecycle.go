package loaders

import (
	"slices"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// OperationKind identifies a data object operation.
type OperationKind int

const (
	OpCopy OperationKind = iota
	OpMove
	OpDelete
	OpRename
	OpShadow
	OpTemplate
	OpCreate
)

func (k OperationKind) String() string {
	switch k {
	case OpCopy:
		return "copy"
	case OpMove:
		return "move"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	case OpShadow:
		return "shadow"
	case OpTemplate:
		return "template"
	case OpCreate:
		return "create"
	default:
		return "unknown"
	}
}

// OperationEvent is published after a data object operation completed.
type OperationEvent struct {
	Kind OperationKind

	// Object is the resulting object: the copy, the moved or renamed
	// object, the new shadow or instance. For OpDelete it is the deleted
	// (now invalid) object.
	Object DataObject

	// OriginalFile is the primary file before the operation (OpMove,
	// OpRename) or the source primary file (OpCopy, OpShadow, OpTemplate).
	OriginalFile *vfs.File

	// Original is the source object for OpCopy, OpShadow and OpTemplate.
	Original DataObject
}

// AddOperationListener subscribes fn to operation events. Listeners run
// synchronously after the operation, on the goroutine that performed it.
func (s *System) AddOperationListener(fn func(OperationEvent)) (remove func()) {
	s.opMu.Lock()
	id := s.nextOp
	s.nextOp++
	s.opListeners[id] = fn
	s.opMu.Unlock()

	return func() {
		s.opMu.Lock()
		delete(s.opListeners, id)
		s.opMu.Unlock()
	}
}

func (s *System) fireOperation(ev OperationEvent) {
	s.opMu.Lock()
	ids := make([]uint64, 0, len(s.opListeners))
	for id := range s.opListeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]func(OperationEvent), 0, len(ids))
	for _, id := range ids {
		ls = append(ls, s.opListeners[id])
	}
	s.opMu.Unlock()

	logger.Debug("operation %s %v", ev.Kind, ev.Object)
	for _, fn := range ls {
		fn(ev)
	}
}
