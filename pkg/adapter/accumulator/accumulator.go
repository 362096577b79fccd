// Package accumulator implements the minimal resource adapter used to seed
// the test suite described in spec §8: the resource is an int64
// accumulator starting at 0, where redo(x) adds x and undo(x) subtracts x.
// Each operation payload is a single little-endian int32.
package accumulator

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/opcoordio/txlog/pkg/adapter"
)

// Accumulator is a thread-safe in-memory resource double.
type Accumulator struct {
	adapter.NopAdapter

	mu    sync.Mutex
	value int64

	// RequireReplay, when set, is consulted by BeginUndo/BeginRedo so
	// tests can exercise the adapter's "skip the whole walk" path.
	RequireReplay func() bool
}

// New returns an Accumulator starting at 0.
func New() *Accumulator {
	return &Accumulator{}
}

// Value returns the current accumulator value.
func (a *Accumulator) Value() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

func (a *Accumulator) Name() string { return "accumulator" }

func (a *Accumulator) BeginUndo(*adapter.UpdateContext) (bool, error) {
	if a.RequireReplay != nil {
		return a.RequireReplay(), nil
	}
	return true, nil
}

func (a *Accumulator) BeginRedo(*adapter.UpdateContext) (bool, error) {
	if a.RequireReplay != nil {
		return a.RequireReplay(), nil
	}
	return true, nil
}

func (a *Accumulator) Redo(_ *adapter.UpdateContext, op adapter.Operation) error {
	x, ok := op.Payload.(int32)
	if !ok {
		return fmt.Errorf("accumulator: redo payload is %T, want int32", op.Payload)
	}
	a.mu.Lock()
	a.value += int64(x)
	a.mu.Unlock()
	return nil
}

func (a *Accumulator) Undo(_ *adapter.UpdateContext, op adapter.Operation) error {
	x, ok := op.Payload.(int32)
	if !ok {
		return fmt.Errorf("accumulator: undo payload is %T, want int32", op.Payload)
	}
	a.mu.Lock()
	a.value -= int64(x)
	a.mu.Unlock()
	return nil
}

func (a *Accumulator) ReadOperation(_ *adapter.UpdateContext, r io.Reader) (any, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (a *Accumulator) WriteOperation(_ *adapter.UpdateContext, w io.Writer, payload any) error {
	x, ok := payload.(int32)
	if !ok {
		return fmt.Errorf("accumulator: write payload is %T, want int32", payload)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(x))
	_, err := w.Write(buf[:])
	return err
}
