package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// recordNamespace scopes the UUIDv5 record IDs derived from staff identity.
var recordNamespace = uuid.MustParse("6f1c2a7e-3b5d-5c4e-9a0b-7d2e8f4a1c6b")

// IdentityRecord is one enrolled face template for a staff member.
type IdentityRecord struct {
	RecordID       string
	StaffID        string
	Name           string
	Embedding      []float32
	SourceFileName string
	CreatedAt      time.Time
}

// Neighbor is a record returned by a similarity query together with its
// cosine similarity to the query embedding.
type Neighbor struct {
	Record     IdentityRecord
	Similarity float64
}

// RecordID derives the record ID for a staff member. The same staffID and name
// always produce the same ID, so re-registering overwrites instead of appending.
func RecordID(staffID, name string) string {
	return uuid.NewSHA1(recordNamespace, []byte(constants.RecordIDPrefix+staffID+"_"+name)).String()
}

// ValidateBatch checks that every record is complete and that all embeddings
// share one dimensionality. A batch that fails validation must not be written.
func ValidateBatch(records []IdentityRecord) error {
	dim := 0
	for i := range records {
		rec := &records[i]
		if rec.RecordID == "" {
			return fmt.Errorf("record %d: %w: empty record id", i, ErrInvalidRecord)
		}
		if rec.StaffID == "" {
			return fmt.Errorf("record %s: %w: empty staff id", rec.RecordID, ErrInvalidRecord)
		}
		if !facematch.ValidEmbedding(rec.Embedding) {
			return fmt.Errorf("record %s: %w: malformed embedding", rec.RecordID, ErrInvalidRecord)
		}
		if dim == 0 {
			dim = len(rec.Embedding)
		} else if len(rec.Embedding) != dim {
			return fmt.Errorf("record %s: %w: dimension %d, batch uses %d",
				rec.RecordID, ErrInvalidRecord, len(rec.Embedding), dim)
		}
	}
	return nil
}

// cloneRecord returns a copy of rec that shares no memory with it.
func cloneRecord(rec IdentityRecord) IdentityRecord {
	rec.Embedding = append([]float32(nil), rec.Embedding...)
	return rec
}

// CloneRecords deep-copies records so callers cannot mutate stored embeddings.
func CloneRecords(records []IdentityRecord) []IdentityRecord {
	if records == nil {
		return nil
	}
	out := make([]IdentityRecord, len(records))
	for i := range records {
		out[i] = cloneRecord(records[i])
	}
	return out
}
