package replcli

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/opcoordio/txlog/pkg/adapter/accumulator"
	"github.com/opcoordio/txlog/pkg/coordinator"
)

// Session binds a live Coordinator and its demo Resource Adapter to a
// REPL, tracking each client's currently-open handle stack so that bare
// "commit"/"rollback" commands act on the most recently begun
// transaction or save-point.
type Session struct {
	Coord *coordinator.Coordinator
	Acc   *accumulator.Accumulator

	mu    sync.Mutex
	stack map[string][]*coordinator.Transaction
}

// NewSession wraps coord and acc for use by TxCommands.
func NewSession(coord *coordinator.Coordinator, acc *accumulator.Accumulator) *Session {
	return &Session{Coord: coord, Acc: acc, stack: make(map[string][]*coordinator.Transaction)}
}

func (s *Session) push(clientId string, t *coordinator.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack[clientId] = append(s.stack[clientId], t)
}

func (s *Session) pop(clientId string) *coordinator.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.stack[clientId]
	if len(frames) == 0 {
		return nil
	}
	top := frames[len(frames)-1]
	s.stack[clientId] = frames[:len(frames)-1]
	return top
}

// TxCommands returns a REPL exposing begin/write/commit/rollback/status
// against the accumulator demo resource.
func (s *Session) TxCommands() *REPL {
	r := NewRepl()

	r.AddCommand("begin", func(line string, cfg *REPLConfig) error {
		t, err := s.Coord.BeginTransaction(cfg.GetClientId())
		if err != nil {
			return err
		}
		s.push(cfg.GetClientId().String(), t)
		fmt.Fprintf(cfg.GetWriter(), "began transaction %s (depth %d)\n", t.ID(), t.Depth())
		return nil
	}, "begin <>: start or nest a transaction")

	r.AddCommand("write", func(line string, cfg *REPLConfig) error {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("usage: write <int32>")
		}
		n, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		s.mu.Lock()
		frames := s.stack[cfg.GetClientId().String()]
		s.mu.Unlock()
		if len(frames) == 0 {
			return fmt.Errorf("write: no open transaction, run begin first")
		}
		top := frames[len(frames)-1]
		if err := top.Write(int32(n), ""); err != nil {
			return err
		}
		fmt.Fprintf(cfg.GetWriter(), "wrote %d\n", n)
		return nil
	}, "write <int32>: append a delta to the open transaction")

	r.AddCommand("commit", func(line string, cfg *REPLConfig) error {
		t := s.pop(cfg.GetClientId().String())
		if t == nil {
			return fmt.Errorf("commit: no open transaction")
		}
		if err := t.Commit(); err != nil {
			return err
		}
		fmt.Fprintln(cfg.GetWriter(), "committed")
		return nil
	}, "commit: commit the innermost open transaction")

	r.AddCommand("rollback", func(line string, cfg *REPLConfig) error {
		t := s.pop(cfg.GetClientId().String())
		if t == nil {
			return fmt.Errorf("rollback: no open transaction")
		}
		if err := t.Rollback(); err != nil {
			return err
		}
		fmt.Fprintln(cfg.GetWriter(), "rolled back")
		return nil
	}, "rollback: roll back the innermost open transaction")

	r.AddCommand("status", func(line string, cfg *REPLConfig) error {
		fmt.Fprintf(cfg.GetWriter(), "%s = %d\n", s.Acc.Name(), s.Acc.Value())
		return nil
	}, "status: print the accumulator's current value")

	return r
}
