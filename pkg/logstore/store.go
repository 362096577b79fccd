// Package logstore implements the Log Store (spec §4.2): the directory
// and owner of every base transaction's Operation Log, with file-backed
// and in-memory implementations.
package logstore

import (
	"github.com/opcoordio/txlog/pkg/oplog"
	"github.com/opcoordio/txlog/pkg/txid"
)

// Status is the result of Open's directory scan.
type Status int

const (
	// Ready: no existing logs.
	Ready Status = iota
	// Recover: existing logs were found and all validate.
	Recover
	// Corrupt: at least one existing log failed validation.
	Corrupt
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Recover:
		return "recover"
	case Corrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// LogStore is the contract shared by the file-backed and in-memory
// implementations.
type LogStore interface {
	Open() (Status, error)
	Close(simulateCrash bool) error
	OrphanTransactions() ([]txid.TxId, error)
	OpenOperationLog(id txid.TxId) (oplog.OperationLog, error)
	CreateOperationLog(id txid.TxId) (oplog.OperationLog, error)
	CommitOperationLog(log oplog.OperationLog) error
	RemoveOperationLog(log oplog.OperationLog) error
	CloseOperationLog(log oplog.OperationLog) error
}
