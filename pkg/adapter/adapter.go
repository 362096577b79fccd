// Package adapter defines the contract the external transacted resource
// implements: undo/redo application, recovery bracketing, and operation
// (de)serialization. See spec §4.6.
package adapter

import (
	"io"

	"github.com/opcoordio/txlog/pkg/txid"
)

// Phase identifies which call sequence an UpdateContext belongs to. The
// three flags are mutually exclusive for a single bracketed call sequence.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseRecovery
	PhaseCommit
	PhaseRollback
)

func (p Phase) String() string {
	switch p {
	case PhaseRecovery:
		return "recovery"
	case PhaseCommit:
		return "commit"
	case PhaseRollback:
		return "rollback"
	default:
		return "none"
	}
}

// UpdateContext is the immutable-per-call envelope passed to every adapter
// callback. Coordinator is an opaque reference back to the driving
// coordinator (typed as `any` here to avoid an import cycle with package
// coordinator; concrete adapters that need it type-assert to their known
// coordinator type). TxId is the zero value during recovery-phase calls
// that aren't scoped to one transaction (begin/end-recovery).
type UpdateContext struct {
	Coordinator any
	Phase       Phase
	TxId        txid.TxId

	// State is a caller-writable slot the adapter may use to thread its
	// own state through a begin/step/end sequence (e.g. a batch handle
	// opened in BeginRedo and closed in EndRedo).
	State any
}

// Operation is a single resource-specific unit of work: a human-readable
// description (may be empty) and an opaque payload whose format is owned
// entirely by the resource.
type Operation struct {
	Description string
	Payload     any
}

// ResourceAdapter is the capability set the external resource implements.
type ResourceAdapter interface {
	// Name returns a diagnostic string identifying this resource.
	Name() string

	// BeginRecovery/EndRecovery bracket the whole recovery cycle across
	// every orphan transaction. BeginRecovery may abort recovery with an
	// error if persistent state is too damaged to proceed.
	BeginRecovery(ctx *UpdateContext) error
	EndRecovery(ctx *UpdateContext) error

	// BeginUndo reports whether the reverse walk should proceed at all;
	// returning false lets the adapter skip per-record Undo calls
	// entirely (e.g. restoring from a snapshot instead). Undo is called
	// once per record in reverse append order. EndUndo closes the walk.
	BeginUndo(ctx *UpdateContext) (bool, error)
	Undo(ctx *UpdateContext, op Operation) error
	EndUndo(ctx *UpdateContext) error

	// BeginRedo/Redo/EndRedo are the forward-walk dual of the above.
	BeginRedo(ctx *UpdateContext) (bool, error)
	Redo(ctx *UpdateContext, op Operation) error
	EndRedo(ctx *UpdateContext) error

	// ReadOperation/WriteOperation (de)serialize the opaque payload. The
	// description field is not part of this payload; the log handles it
	// separately. WriteOperation must advance w by exactly the bytes it
	// wrote; ReadOperation should read exactly that many — the log
	// tolerates drift on read by repositioning, but logs a warning.
	ReadOperation(ctx *UpdateContext, r io.Reader) (any, error)
	WriteOperation(ctx *UpdateContext, w io.Writer, payload any) error
}

// NopAdapter is an embeddable base supplying a no-op/true default for
// every optional hook, so a minimal adapter only needs to implement
// Name, ReadOperation, WriteOperation, Redo, and Undo.
type NopAdapter struct{}

func (NopAdapter) BeginRecovery(*UpdateContext) error { return nil }
func (NopAdapter) EndRecovery(*UpdateContext) error   { return nil }
func (NopAdapter) BeginUndo(*UpdateContext) (bool, error) { return true, nil }
func (NopAdapter) EndUndo(*UpdateContext) error           { return nil }
func (NopAdapter) BeginRedo(*UpdateContext) (bool, error) { return true, nil }
func (NopAdapter) EndRedo(*UpdateContext) error           { return nil }
