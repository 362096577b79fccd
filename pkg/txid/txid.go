// Package txid defines the 128-bit transaction identifier used as the key
// for every base transaction and the filename of its operation log.
package txid

import (
	"github.com/google/uuid"
)

// TxId is a 128-bit universally-unique value assigned when a base
// transaction begins. It is immutable for the life of the log.
type TxId [16]byte

// Nil is the zero TxId, used by recovery-phase Update Contexts that are
// not scoped to a specific transaction.
var Nil TxId

// New returns a freshly generated TxId.
func New() TxId {
	return TxId(uuid.New())
}

// String returns the canonical 36-character textual form, also used as
// the log's on-disk filename stem.
func (id TxId) String() string {
	return uuid.UUID(id).String()
}

// Parse parses the canonical textual form produced by String.
func Parse(s string) (TxId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TxId{}, err
	}
	return TxId(u), nil
}

// IsNil reports whether id is the zero value.
func (id TxId) IsNil() bool {
	return id == Nil
}
