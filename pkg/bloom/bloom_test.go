package bloom

import (
	"testing"

	"github.com/opcoordio/txlog/pkg/txid"
)

func TestAddedMembersAreReportedPresent(t *testing.T) {
	s := NewSet(16)
	ids := make([]txid.TxId, 10)
	for i := range ids {
		ids[i] = txid.New()
		s.Add(ids[i])
	}
	for _, id := range ids {
		if !s.MaybeContains(id) {
			t.Fatalf("added id %s reported absent", id)
		}
	}
}

func TestResetClearsMembership(t *testing.T) {
	s := NewSet(16)
	id := txid.New()
	s.Add(id)
	if !s.MaybeContains(id) {
		t.Fatal("id should be present before Reset")
	}
	s.Reset()
	if s.MaybeContains(id) {
		t.Fatal("id should be absent after Reset")
	}
}

func TestNeverFalseNegative(t *testing.T) {
	s := NewSet(64)
	var added []txid.TxId
	for i := 0; i < 200; i++ {
		id := txid.New()
		s.Add(id)
		added = append(added, id)
	}
	for _, id := range added {
		if !s.MaybeContains(id) {
			t.Fatalf("bloom filter produced a false negative for %s", id)
		}
	}
}
