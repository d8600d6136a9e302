package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/stockagent/internal/models"
)

func newTestStorage(t *testing.T, maxRecords int) *Storage {
	t.Helper()
	s, err := New(maxRecords, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(runID, ticker string, createdAt time.Time) *models.RunRecord {
	return &models.RunRecord{
		RunID:         runID,
		Requirement:   "Check MSFT and META price",
		Ticker:        ticker,
		Price:         420.5,
		ChangePercent: 5.1,
		Threshold:     5,
		Direction:     models.DirectionEither,
		Triggered:     true,
		Reason:        ticker + " moved +5.10%",
		CreatedAt:     createdAt,
	}
}

func TestStorage_AddAndRecent(t *testing.T) {
	s := newTestStorage(t, 100)
	now := time.Now()
	rec := testRecord("run-1", "MSFT", now)

	if err := s.AddRecord(rec); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	got, err := s.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	r := got[0]
	if r.RunID != rec.RunID || r.Ticker != rec.Ticker || r.Reason != rec.Reason {
		t.Errorf("record mismatch: %+v", r)
	}
	if r.Price != rec.Price || r.ChangePercent != rec.ChangePercent || r.Threshold != rec.Threshold {
		t.Errorf("numeric mismatch: %+v", r)
	}
	if r.Direction != models.DirectionEither || !r.Triggered {
		t.Errorf("direction/triggered mismatch: %+v", r)
	}
	if !r.CreatedAt.Equal(time.Unix(0, now.UnixNano())) {
		t.Errorf("created_at = %v, want %v", r.CreatedAt, now)
	}
}

func TestStorage_AddRecord_Invalid(t *testing.T) {
	s := newTestStorage(t, 100)
	tests := []struct {
		name string
		rec  *models.RunRecord
	}{
		{"missing run id", testRecord("", "MSFT", time.Now())},
		{"missing ticker", testRecord("run-1", "", time.Now())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.AddRecord(tt.rec); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStorage_RecentRuns_Order(t *testing.T) {
	s := newTestStorage(t, 100)
	base := time.Now()
	for i := 0; i < 5; i++ {
		rec := testRecord(fmt.Sprintf("run-%d", i), "MSFT", base.Add(time.Duration(i)*time.Minute))
		if err := s.AddRecord(rec); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	got, err := s.RecentRuns(3)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i, want := range []string{"run-4", "run-3", "run-2"} {
		if got[i].RunID != want {
			t.Errorf("record %d = %s, want %s", i, got[i].RunID, want)
		}
	}
}

func TestStorage_RecentRuns_Empty(t *testing.T) {
	s := newTestStorage(t, 100)
	got, err := s.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestStorage_RunRecords(t *testing.T) {
	s := newTestStorage(t, 100)
	now := time.Now()
	for _, ticker := range []string{"MSFT", "META"} {
		if err := s.AddRecord(testRecord("run-a", ticker, now)); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	if err := s.AddRecord(testRecord("run-b", "NVDA", now)); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}

	got, err := s.RunRecords("run-a")
	if err != nil {
		t.Fatalf("RunRecords: %v", err)
	}
	if len(got) != 2 || got[0].Ticker != "MSFT" || got[1].Ticker != "META" {
		t.Errorf("unexpected run records: %+v", got)
	}
}

func TestStorage_RotationCap(t *testing.T) {
	s := newTestStorage(t, 3)
	base := time.Now()
	for i := 0; i < 6; i++ {
		rec := testRecord(fmt.Sprintf("run-%d", i), "MSFT", base.Add(time.Duration(i)*time.Second))
		if err := s.AddRecord(rec); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d records, want 3", n)
	}
	got, _ := s.RecentRuns(10)
	if got[len(got)-1].RunID != "run-3" {
		t.Errorf("oldest kept = %s, want run-3", got[len(got)-1].RunID)
	}
}

func TestStorage_Rotate(t *testing.T) {
	s := newTestStorage(t, 0)
	base := time.Now()
	for i := 0; i < 4; i++ {
		if err := s.AddRecord(testRecord(fmt.Sprintf("run-%d", i), "MSFT", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	if n, _ := s.Count(); n != 4 {
		t.Fatalf("unbounded storage should keep all records, got %d", n)
	}
	s.maxRecords = 2
	if err := s.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if n, _ := s.Count(); n != 2 {
		t.Errorf("got %d records after rotate, want 2", n)
	}
}

func TestStorage_FilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	s, err := New(10, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.AddRecord(testRecord("run-1", "MSFT", time.Now())); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := New(10, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "run-1" {
		t.Errorf("unexpected records after reopen: %+v", got)
	}
}
