package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/media"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

// Registration statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// RegistrationResult describes the outcome of enrolling one staff member.
type RegistrationResult struct {
	StaffID        string `json:"staffId"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	RecordID       string `json:"recordId,omitempty"`
	SourceFileName string `json:"sourceFileName,omitempty"`
	Replaced       int    `json:"replaced,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorKind      Kind   `json:"errorKind,omitempty"`
}

// Enrollment is one entry of a bulk registration.
type Enrollment struct {
	Path    string
	StaffID string
	Name    string
}

// StaffSummary is one enrolled staff member as shown by listings.
type StaffSummary struct {
	StaffID        string    `json:"staffId"`
	Name           string    `json:"name"`
	Records        int       `json:"records"`
	SourceFileName string    `json:"sourceFileName"`
	RegisteredAt   time.Time `json:"registeredAt"`
}

// Registry manages the enrolled identities.
type Registry struct {
	Store     database.VectorStore
	Extractor embedding.Extractor
	Paths     Paths
	Config    ConfigSource
	// BatchSize is the write batch for bulk registration.
	BatchSize int
	// Workers bounds concurrent face extraction in RegisterBatch.
	Workers int

	locks keyedMutex
}

// Register enrolls the largest face found in an image under the staff images
// directory, replacing every record staffID had before.
func (g *Registry) Register(ctx context.Context, relPath, staffID, name string) (*RegistrationResult, error) {
	if err := validateIdentity(staffID, name); err != nil {
		return nil, err
	}
	cfg := g.Config.Current().Analysis

	face, err := g.extractLargest(ctx, relPath)
	if err != nil {
		return nil, err
	}
	if err := g.checkDuplicate(ctx, face.Embedding, staffID, cfg.DuplicateFaceThreshold); err != nil {
		return nil, err
	}

	rec := newRecord(staffID, name, relPath, face.Embedding)
	w := g.newReplacingWriter()
	buf := database.NewBuffer(w, g.BatchSize)
	if err := buf.Add(ctx, rec); err != nil {
		return nil, fmt.Errorf("store record: %w", err)
	}
	if err := buf.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush record: %w", err)
	}
	replaced, _ := w.written(staffID)

	return &RegistrationResult{
		StaffID:        staffID,
		Name:           name,
		Status:         StatusSuccess,
		RecordID:       rec.RecordID,
		SourceFileName: rec.SourceFileName,
		Replaced:       replaced,
	}, nil
}

// RegisterBatch enrolls many staff members at once. Faces are extracted
// concurrently and written through one buffered writer. Entries that fail on
// their own input are reported in their result; only a store failure or
// cancellation fails the whole call. When a staff ID appears more than once
// the last entry wins and the earlier ones are skipped.
func (g *Registry) RegisterBatch(ctx context.Context, entries []Enrollment) ([]RegistrationResult, error) {
	return g.RegisterBatchProgress(ctx, entries, nil)
}

// RegisterBatchProgress is RegisterBatch calling extracted, when set, once
// per entry after its face extraction finished. It may be called from
// several goroutines at once.
func (g *Registry) RegisterBatchProgress(ctx context.Context, entries []Enrollment, extracted func()) ([]RegistrationResult, error) {
	cfg := g.Config.Current().Analysis
	results := make([]RegistrationResult, len(entries))
	faces := make([]facematch.Face, len(entries))

	workers := g.Workers
	if workers <= 0 {
		workers = constants.WorkerPoolSize
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, e := range entries {
		results[i] = RegistrationResult{StaffID: e.StaffID, Name: e.Name}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if extracted != nil {
				defer extracted()
			}
			if err := validateIdentity(e.StaffID, e.Name); err != nil {
				results[i].fail(err)
				return nil
			}
			face, err := g.extractLargest(egCtx, e.Path)
			if err != nil {
				results[i].fail(err)
				return nil
			}
			faces[i] = face
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	last := make(map[string]int, len(entries))
	for i, e := range entries {
		if results[i].Status == "" {
			last[e.StaffID] = i
		}
	}

	var toWrite []int
	records := make([]database.IdentityRecord, len(entries))
	for i, e := range entries {
		if results[i].Status != "" {
			continue
		}
		if last[e.StaffID] != i {
			results[i].Status = StatusSkipped
			results[i].Error = "superseded by a later entry"
			continue
		}
		err := g.checkDuplicate(ctx, faces[i].Embedding, e.StaffID, cfg.DuplicateFaceThreshold)
		if errors.Is(err, ErrDuplicateFace) {
			results[i].fail(err)
			continue
		}
		if err != nil {
			return results, err
		}
		records[i] = newRecord(e.StaffID, e.Name, e.Path, faces[i].Embedding)
		toWrite = append(toWrite, i)
	}

	// earlier records of a staff member go in the flush that writes the replacement
	w := g.newReplacingWriter()
	buf := database.NewBuffer(w, g.BatchSize)
	var writeErr error
	for _, i := range toWrite {
		if writeErr = buf.Add(ctx, records[i]); writeErr != nil {
			break
		}
	}
	if writeErr == nil {
		writeErr = buf.Flush(ctx)
	}

	for _, i := range toWrite {
		replaced, ok := w.written(entries[i].StaffID)
		if !ok {
			results[i].fail(writeErr)
			continue
		}
		results[i].Status = StatusSuccess
		results[i].RecordID = records[i].RecordID
		results[i].SourceFileName = records[i].SourceFileName
		results[i].Replaced = replaced
	}
	if writeErr != nil {
		return results, fmt.Errorf("store records: %w", writeErr)
	}
	return results, nil
}

// replacingWriter sits between a registration Buffer and the store. Every
// batch it writes first removes the earlier records of the batch's staff IDs;
// when the write then fails, the removed records are put back.
type replacingWriter struct {
	g *Registry

	mu       sync.Mutex
	replaced map[string]int // staff ID -> records removed, written batches only
}

func (g *Registry) newReplacingWriter() *replacingWriter {
	return &replacingWriter{g: g, replaced: make(map[string]int)}
}

func (w *replacingWriter) UpsertBatch(ctx context.Context, records []database.IdentityRecord) error {
	ids := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if !seen[rec.StaffID] {
			seen[rec.StaffID] = true
			ids = append(ids, rec.StaffID)
		}
	}
	// sorted so concurrent batches lock in the same order
	sort.Strings(ids)
	for _, id := range ids {
		defer w.g.locks.Lock(id)()
	}

	store := w.g.Store
	var removed []database.IdentityRecord
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		existing, err := store.FindByStaffID(ctx, id)
		if err != nil {
			w.restore(ctx, removed)
			return fmt.Errorf("find staff %s: %w", id, err)
		}
		if len(existing) == 0 {
			continue
		}
		n, err := store.DeleteByStaffID(ctx, id)
		if err != nil {
			w.restore(ctx, removed)
			return fmt.Errorf("replace staff %s: %w", id, err)
		}
		removed = append(removed, existing...)
		counts[id] = n
	}

	if err := store.UpsertBatch(ctx, records); err != nil {
		w.restore(ctx, removed)
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		w.replaced[id] = counts[id]
	}
	return nil
}

func (w *replacingWriter) DeleteByStaffID(ctx context.Context, staffID string) (int, error) {
	return w.g.Store.DeleteByStaffID(ctx, staffID)
}

// restore writes back records removed by a batch that then failed.
func (w *replacingWriter) restore(ctx context.Context, removed []database.IdentityRecord) {
	if len(removed) == 0 {
		return
	}
	if err := w.g.Store.UpsertBatch(context.WithoutCancel(ctx), removed); err != nil {
		slog.Error("failed to restore replaced records", "records", len(removed), "error", err)
	}
}

// written reports how many records staffID lost to a successfully written
// replacement, and whether it was written at all.
func (w *replacingWriter) written(staffID string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.replaced[staffID]
	return n, ok
}

func (r *RegistrationResult) fail(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
	r.ErrorKind = KindOf(err)
}

// Delete removes every record of staffID and returns how many there were.
// An unknown staff ID removes nothing and is not an error.
func (g *Registry) Delete(ctx context.Context, staffID string) (int, error) {
	if staffID == "" {
		return 0, fmt.Errorf("%w: empty staff id", ErrInvalidInput)
	}
	unlock := g.locks.Lock(staffID)
	defer unlock()

	n, err := g.Store.DeleteByStaffID(ctx, staffID)
	if err != nil {
		return 0, fmt.Errorf("delete staff %s: %w", staffID, err)
	}
	return n, nil
}

// Exists reports whether staffID has at least one record.
func (g *Registry) Exists(ctx context.Context, staffID string) (bool, error) {
	records, err := g.Store.FindByStaffID(ctx, staffID)
	if err != nil {
		return false, fmt.Errorf("find staff %s: %w", staffID, err)
	}
	return len(records) > 0, nil
}

// Lookup returns the records of staffID, failing with ErrStaffNotFound when
// there are none.
func (g *Registry) Lookup(ctx context.Context, staffID string) ([]database.IdentityRecord, error) {
	records, err := g.Store.FindByStaffID(ctx, staffID)
	if err != nil {
		return nil, fmt.Errorf("find staff %s: %w", staffID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrStaffNotFound, staffID)
	}
	return records, nil
}

// List summarizes the enrolled staff, optionally keeping only names that
// contain nameFilter (case and diacritics insensitive).
func (g *Registry) List(ctx context.Context, nameFilter string) ([]StaffSummary, error) {
	records, err := g.Store.ListStaff(ctx)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}

	byID := make(map[string]*StaffSummary)
	for _, rec := range records {
		if !facematch.NameMatches(rec.Name, nameFilter) {
			continue
		}
		s, ok := byID[rec.StaffID]
		if !ok {
			s = &StaffSummary{StaffID: rec.StaffID}
			byID[rec.StaffID] = s
		}
		s.Records++
		if !rec.CreatedAt.Before(s.RegisteredAt) {
			s.Name = rec.Name
			s.SourceFileName = rec.SourceFileName
			s.RegisteredAt = rec.CreatedAt
		}
	}

	out := make([]StaffSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StaffID < out[j].StaffID })
	return out, nil
}

// CheckDuplicateFace fails with ErrDuplicateFace when the nearest enrolled
// face belongs to someone other than staffID and is more similar than
// threshold. A threshold of 0 or below disables the check.
func (g *Registry) CheckDuplicateFace(ctx context.Context, emb []float32, staffID string, threshold float64) error {
	return g.checkDuplicate(ctx, emb, staffID, threshold)
}

func (g *Registry) checkDuplicate(ctx context.Context, emb []float32, staffID string, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	match, err := Matcher{Store: g.Store}.Match(ctx, emb, threshold)
	if err != nil {
		return err
	}
	if match != nil && match.StaffID != staffID {
		return fmt.Errorf("%w: %s (%s, similarity %.4f)", ErrDuplicateFace, match.Name, match.StaffID, match.Similarity)
	}
	return nil
}

func (g *Registry) extractLargest(ctx context.Context, relPath string) (facematch.Face, error) {
	path, err := resolveInput(g.Paths, storage.CategoryStaffImages, relPath)
	if err != nil {
		return facematch.Face{}, err
	}
	img, err := media.DecodeImage(path)
	if err != nil {
		return facematch.Face{}, err
	}
	face, ok := facematch.LargestFace(g.Extractor.Extract(ctx, img))
	if !ok {
		return facematch.Face{}, fmt.Errorf("%w: %s", ErrNoFaceDetected, relPath)
	}
	return face, nil
}

func newRecord(staffID, name, relPath string, emb []float32) database.IdentityRecord {
	return database.IdentityRecord{
		RecordID:       database.RecordID(staffID, name),
		StaffID:        staffID,
		Name:           name,
		Embedding:      emb,
		SourceFileName: filepath.Base(relPath),
		CreatedAt:      time.Now().UTC(),
	}
}

func validateIdentity(staffID, name string) error {
	if strings.TrimSpace(staffID) == "" {
		return fmt.Errorf("%w: empty staff id", ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidInput)
	}
	return nil
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// Lock locks key and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
