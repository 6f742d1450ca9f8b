package database

import (
	"errors"
	"math"
	"testing"
)

func TestRecordIDDeterministic(t *testing.T) {
	a := RecordID("E1", "Alice")
	b := RecordID("E1", "Alice")
	if a != b {
		t.Errorf("RecordID not deterministic: %q != %q", a, b)
	}
	if a == RecordID("E1", "Bob") {
		t.Error("different names should give different record ids")
	}
	if a == RecordID("E2", "Alice") {
		t.Error("different staff ids should give different record ids")
	}
}

func TestValidateBatch(t *testing.T) {
	good := IdentityRecord{RecordID: "r1", StaffID: "E1", Embedding: []float32{1, 0}}

	tests := []struct {
		name    string
		records []IdentityRecord
		wantErr bool
	}{
		{"empty batch", nil, false},
		{"valid", []IdentityRecord{good}, false},
		{"missing record id", []IdentityRecord{{StaffID: "E1", Embedding: []float32{1}}}, true},
		{"missing staff id", []IdentityRecord{{RecordID: "r", Embedding: []float32{1}}}, true},
		{"empty embedding", []IdentityRecord{{RecordID: "r", StaffID: "E1"}}, true},
		{"nan embedding", []IdentityRecord{{RecordID: "r", StaffID: "E1", Embedding: []float32{float32(math.NaN())}}}, true},
		{"mixed dimensions", []IdentityRecord{good, {RecordID: "r2", StaffID: "E2", Embedding: []float32{1, 0, 0}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatch(tt.records)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateBatch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestRankExact(t *testing.T) {
	records := []IdentityRecord{
		{RecordID: "a", Embedding: []float32{1, 0}},
		{RecordID: "b", Embedding: []float32{0, 1}},
		{RecordID: "c", Embedding: []float32{1, 1}},
		{RecordID: "d", Embedding: []float32{1, 0}},
	}

	got := RankExact(records, []float32{1, 0}, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 neighbors, got %d", len(got))
	}
	wantOrder := []string{"a", "d", "c"}
	for i, id := range wantOrder {
		if got[i].Record.RecordID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].Record.RecordID, id)
		}
	}
	if math.Abs(got[0].Similarity-1) > 1e-9 {
		t.Errorf("expected similarity 1, got %v", got[0].Similarity)
	}

	if all := RankExact(records, []float32{1, 0}, 10); len(all) != len(records) {
		t.Errorf("k above count should return all records, got %d", len(all))
	}
	if none := RankExact(nil, []float32{1, 0}, 1); len(none) != 0 {
		t.Errorf("empty input should return nothing, got %d", len(none))
	}
}

func TestUnavailableWrapsBoth(t *testing.T) {
	cause := errors.New("disk full")
	err := Unavailable("upsert", cause)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("expected ErrStoreUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected underlying cause to be preserved")
	}
}
