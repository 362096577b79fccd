package oplog

import (
	"github.com/opcoordio/txlog/pkg/adapter"
	"github.com/opcoordio/txlog/pkg/txid"
)

func testCtx(id txid.TxId) *adapter.UpdateContext {
	return &adapter.UpdateContext{TxId: id}
}

func opFor(v int32) adapter.Operation {
	return adapter.Operation{Payload: v}
}
