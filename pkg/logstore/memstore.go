package logstore

import (
	"sync"

	"github.com/opcoordio/txlog/pkg/oplog"
	"github.com/opcoordio/txlog/pkg/txerr"
	"github.com/opcoordio/txlog/pkg/txid"
)

// MemStore is the in-memory behavioral twin of FileStore: the same
// lifecycle and invariants, without I/O. OrphanTransactions always
// returns empty and simulateCrash has no effect, per spec §6.
type MemStore struct {
	mu    sync.Mutex
	open  bool
	logs  map[txid.TxId]oplog.OperationLog
}

// NewMemStore returns an unopened in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{logs: make(map[txid.TxId]oplog.OperationLog)}
}

func (s *MemStore) Open() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return 0, txerr.New(txerr.StateError, "log store is already open")
	}
	s.open = true
	return Ready, nil
}

func (s *MemStore) Close(simulateCrash bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]oplog.OperationLog, 0, len(s.logs))
	for _, h := range s.logs {
		handles = append(handles, h)
	}
	s.logs = make(map[txid.TxId]oplog.OperationLog)
	if !simulateCrash {
		for _, h := range handles {
			_ = h.Close()
		}
	}
	s.open = false
	return nil
}

// OrphanTransactions always returns empty: an in-memory store cannot
// survive a restart, so it never has orphans to recover.
func (s *MemStore) OrphanTransactions() ([]txid.TxId, error) {
	return nil, nil
}

func (s *MemStore) OpenOperationLog(id txid.TxId) (oplog.OperationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[id]
	if !ok {
		return nil, txerr.Newf(txerr.NotFound, "no such log: %s", id)
	}
	return log, nil
}

func (s *MemStore) CreateOperationLog(id txid.TxId) (oplog.OperationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, already := s.logs[id]; already {
		return nil, txerr.Newf(txerr.StateError, "log %s is already open in this process", id)
	}
	log := oplog.NewMemLog(id)
	s.logs[id] = log
	return log, nil
}

// CommitOperationLog flips the log to REDO. Unlike RemoveOperationLog
// it leaves the entry in s.logs and the handle open: there is no disk
// file to reopen from, so the coordinator's subsequent OpenOperationLog
// call for the same TxId must hand back this same in-memory log so its
// records are still there for the forward redo walk.
func (s *MemStore) CommitOperationLog(log oplog.OperationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return log.SetMode(oplog.ModeRedo)
}

func (s *MemStore) RemoveOperationLog(log oplog.OperationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, log.TxId())
	return log.Close()
}

func (s *MemStore) CloseOperationLog(log oplog.OperationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, log.TxId())
	return log.Close()
}
