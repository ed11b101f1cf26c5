package location

import (
	"testing"

	"github.com/mtlchat/corechat/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db.DB)
}

func TestSaveIncomingDeduplicatesOnChatTimestampFrom(t *testing.T) {
	s := newTestStore(t)

	locs := []Location{{Timestamp: 1000, Latitude: 1, Longitude: 2}}
	if _, err := s.SaveIncoming(10, 5, locs, false); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	if _, err := s.SaveIncoming(10, 5, locs, false); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	n, err := s.CountSince(10, 0)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected duplicate to be ignored, got %d rows", n)
	}
}

func TestSaveIncomingAllowsSameTimestampFromDifferentSenders(t *testing.T) {
	s := newTestStore(t)

	locs := []Location{{Timestamp: 1000, Latitude: 1, Longitude: 2}}
	if _, err := s.SaveIncoming(10, 5, locs, false); err != nil {
		t.Fatalf("save sender 5: %v", err)
	}
	if _, err := s.SaveIncoming(10, 6, locs, false); err != nil {
		t.Fatalf("save sender 6: %v", err)
	}

	n, err := s.CountSince(10, 0)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected both senders' rows kept, got %d", n)
	}
}

func TestListForKMLDedupesPerTimestamp(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.InsertStreaming(10, 0, 1, 2, 5, 1000); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if _, err := s.InsertStreaming(10, 0, 3, 4, 5, 1000); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if _, err := s.InsertStreaming(10, 0, 9, 9, 5, 2000); err != nil {
		t.Fatalf("insert c: %v", err)
	}

	locs, err := s.ListForKML(10, 0, 5000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("expected one row per distinct timestamp, got %d", len(locs))
	}
	if locs[0].Timestamp != 1000 || locs[1].Timestamp != 2000 {
		t.Fatalf("expected ascending timestamp order, got %+v", locs)
	}
}

func TestListForKMLExcludesIndependentLocations(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.InsertIndependent(10, 0, 1, 2, 1000); err != nil {
		t.Fatalf("insert independent: %v", err)
	}
	locs, err := s.ListForKML(10, 0, 5000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locs) != 0 {
		t.Fatalf("expected independent location excluded from kml listing, got %d", len(locs))
	}
}
