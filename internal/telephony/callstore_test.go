package telephony

import (
	"testing"
	"time"
)

func TestCallStore_PutAndTakeOnce(t *testing.T) {
	s := NewCallStore()
	defer s.Close()

	s.Put("CA123", "+14155551212", "+14155550100")

	entry, ok := s.TakeOnce("CA123")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if entry.To != "+14155551212" || entry.From != "+14155550100" {
		t.Errorf("got entry %+v, want To=+14155551212 From=+14155550100", entry)
	}
}

func TestCallStore_TakeOnceDeletesEntry(t *testing.T) {
	s := NewCallStore()
	defer s.Close()

	s.Put("CA123", "+14155551212", "+14155550100")
	s.TakeOnce("CA123")

	if _, ok := s.TakeOnce("CA123"); ok {
		t.Error("expected second TakeOnce to find nothing (read-once semantics)")
	}
}

func TestCallStore_MissingEntry(t *testing.T) {
	s := NewCallStore()
	defer s.Close()

	if _, ok := s.TakeOnce("unknown"); ok {
		t.Error("expected no entry for unknown callSid")
	}
}

func TestCallStore_SweepExpiresOldEntries(t *testing.T) {
	s := NewCallStore()
	defer s.Close()

	s.Put("CA123", "+14155551212", "+14155550100")
	s.mu.Lock()
	row := s.rows["CA123"]
	row.expiresAt = time.Now().Add(-time.Second)
	s.rows["CA123"] = row
	s.mu.Unlock()

	s.sweepExpired()

	if _, ok := s.TakeOnce("CA123"); ok {
		t.Error("expected expired entry to have been swept")
	}
}
