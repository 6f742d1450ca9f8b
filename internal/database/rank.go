package database

import (
	"sort"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// RankExact scores every record against query and returns the k most similar,
// most similar first. Records with equal similarity keep their input order.
func RankExact(records []IdentityRecord, query []float32, k int) []Neighbor {
	if k <= 0 || len(records) == 0 {
		return nil
	}

	neighbors := make([]Neighbor, 0, len(records))
	for i := range records {
		neighbors = append(neighbors, Neighbor{
			Record:     cloneRecord(records[i]),
			Similarity: facematch.CosineSimilarity(query, records[i].Embedding),
		})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Similarity > neighbors[j].Similarity
	})

	if k < len(neighbors) {
		neighbors = neighbors[:k]
	}
	return neighbors
}
