package database

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/klauspost/compress/zstd"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	RecordCount int       `json:"record_count"`
	Dim         int       `json:"dim"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"`
	// Checksum covers the IDs and vectors the graph was built from.
	Checksum string `json:"checksum"`
}

const hnswMetadataVersion = 3

// vectorsChecksum hashes vectors in sorted ID order.
func vectorsChecksum(vectors map[string][]float32) string {
	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sum := sha256.New()
	var word [4]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint32(word[:], uint32(len(id))) //nolint:gosec // ids are short
		sum.Write(word[:])
		sum.Write([]byte(id))
		vec := vectors[id]
		binary.LittleEndian.PutUint32(word[:], uint32(len(vec))) //nolint:gosec // embedding widths are small
		sum.Write(word[:])
		for _, f := range vec {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(f))
			sum.Write(word[:])
		}
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// IndexHit is one result of an HNSWIndex search.
type IndexHit struct {
	ID         string
	Similarity float64
}

// HNSWIndex wraps an HNSW graph keyed by record ID.
//
// The graph cannot drop nodes, so deleted and replaced IDs stay in it as
// tombstones and are filtered out of results. The graph is rebuilt once
// tombstones outnumber live vectors.
type HNSWIndex struct {
	graph   *hnsw.Graph[string]
	vectors map[string][]float32 // live vectors by record ID
	stale   map[string]struct{}  // IDs whose graph node is outdated
	mu      sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		vectors: make(map[string][]float32),
		stale:   make(map[string]struct{}),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with records.
func (h *HNSWIndex) Build(records []IdentityRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.vectors = make(map[string][]float32, len(records))
	for i := range records {
		if len(records[i].Embedding) == 0 {
			continue
		}
		h.vectors[records[i].RecordID] = append([]float32(nil), records[i].Embedding...)
	}
	h.rebuildLocked()
}

// rebuildLocked recreates the graph from the live vectors in sorted ID order.
func (h *HNSWIndex) rebuildLocked() {
	h.stale = make(map[string]struct{})
	if len(h.vectors) == 0 {
		h.graph = nil
		return
	}

	ids := make([]string, 0, len(h.vectors))
	for id := range h.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	g := newGraph()
	for _, id := range ids {
		g.Add(hnsw.MakeNode(id, h.vectors[id]))
	}
	h.graph = g
}

// Apply upserts records and removes deleted IDs in one step.
func (h *HNSWIndex) Apply(upserts []IdentityRecord, deleted []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range deleted {
		if _, ok := h.vectors[id]; ok {
			delete(h.vectors, id)
			h.stale[id] = struct{}{}
		}
	}

	var fresh []IdentityRecord
	replaced := false
	for i := range upserts {
		rec := upserts[i]
		if len(rec.Embedding) == 0 {
			continue
		}
		_, live := h.vectors[rec.RecordID]
		_, tomb := h.stale[rec.RecordID]
		h.vectors[rec.RecordID] = append([]float32(nil), rec.Embedding...)
		if live || tomb {
			replaced = true
			continue
		}
		fresh = append(fresh, rec)
	}

	if replaced || len(h.stale) > len(h.vectors) {
		h.rebuildLocked()
		return
	}

	if h.graph == nil && len(fresh) > 0 {
		h.graph = newGraph()
	}
	for _, rec := range fresh {
		h.graph.Add(hnsw.MakeNode(rec.RecordID, h.vectors[rec.RecordID]))
	}
}

// Search finds up to k live IDs nearest to query, most similar first.
// Similarities are computed exactly from the stored vectors.
func (h *HNSWIndex) Search(query []float32, k int) []IndexHit {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if k <= 0 || len(h.vectors) == 0 {
		return nil
	}
	if k >= len(h.vectors) || h.graph == nil {
		return h.scanLocked(query, k)
	}

	searchK := k*HNSWSearchMultiplier + len(h.stale)
	nodes := h.graph.Search(query, searchK)

	hits := make([]IndexHit, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		vec, ok := h.vectors[n.Key]
		if !ok {
			continue
		}
		if _, dup := seen[n.Key]; dup {
			continue
		}
		seen[n.Key] = struct{}{}
		hits = append(hits, IndexHit{ID: n.Key, Similarity: facematch.CosineSimilarity(query, vec)})
	}
	if len(hits) < k {
		return h.scanLocked(query, k)
	}

	sortHits(hits)
	return hits[:k]
}

func (h *HNSWIndex) scanLocked(query []float32, k int) []IndexHit {
	hits := make([]IndexHit, 0, len(h.vectors))
	for id, vec := range h.vectors {
		hits = append(hits, IndexHit{ID: id, Similarity: facematch.CosineSimilarity(query, vec)})
	}
	sortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// sortHits orders by descending similarity, ties by ID.
func sortHits(hits []IndexHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
}

// Count returns the number of live vectors.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vectors)
}

// Tombstones returns the number of outdated graph nodes awaiting a rebuild.
func (h *HNSWIndex) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.stale)
}

// Save writes the graph to path and its metadata to path+".meta".
// Tombstones are compacted first so the saved graph holds live nodes only.
func (h *HNSWIndex) Save(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.stale) > 0 {
		h.rebuildLocked()
	}

	if h.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	if err := writeFileAtomic(path, func(f *os.File) error {
		return h.graph.Export(f)
	}); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	metadata := HNSWIndexMetadata{
		RecordCount: len(h.vectors),
		BuildTime:   time.Now(),
		Version:     hnswMetadataVersion,
		Checksum:    vectorsChecksum(h.vectors),
	}
	for _, vec := range h.vectors {
		metadata.Dim = len(vec)
		break
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load restores the graph saved at path and attaches records as the live set.
// When the saved graph was built from anything other than exactly these
// records, the graph is rebuilt instead. It reports whether the saved graph
// was used.
func (h *HNSWIndex) Load(path string, records []IdentityRecord) (bool, error) {
	vectors := make(map[string][]float32, len(records))
	for i := range records {
		if len(records[i].Embedding) == 0 {
			continue
		}
		vectors[records[i].RecordID] = append([]float32(nil), records[i].Embedding...)
	}

	metadata, err := LoadHNSWMetadata(path)
	if err != nil || metadata.Version != hnswMetadataVersion ||
		metadata.RecordCount != len(vectors) || metadata.Checksum != vectorsChecksum(vectors) {
		h.Build(records)
		return false, nil
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		h.Build(records)
		return false, fmt.Errorf("failed to load HNSW index: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.vectors = vectors
	h.stale = make(map[string]struct{})
	h.graph = saved.Graph
	if h.graph == nil || h.graph.Len() != len(h.vectors) {
		h.rebuildLocked()
		return false, nil
	}
	h.graph.Distance = hnsw.CosineDistance
	h.graph.EfSearch = HNSWEfSearch
	return true, nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// SaveRecordSnapshot writes records as zstd-compressed gob to path.
func SaveRecordSnapshot(path string, records []IdentityRecord) error {
	return writeFileAtomic(path, func(f *os.File) error {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		if err := gob.NewEncoder(enc).Encode(records); err != nil {
			_ = enc.Close()
			return fmt.Errorf("failed to encode records: %w", err)
		}
		return enc.Close()
	})
}

// LoadRecordSnapshot reads a snapshot written by SaveRecordSnapshot.
// A missing file yields no records and no error.
func LoadRecordSnapshot(path string) ([]IdentityRecord, error) {
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var records []IdentityRecord
	if err := gob.NewDecoder(dec).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

// writeFileAtomic writes to a temp file next to path and renames it into place,
// so readers never see a partially written file.
func writeFileAtomic(path string, write func(f *os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
