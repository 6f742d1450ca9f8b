// Package attendance implements identity matching, image and video attendance
// resolution and staff registration on top of a vector store.
package attendance

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// MatchResult is an accepted identification.
type MatchResult struct {
	StaffID    string  `json:"staffId"`
	Name       string  `json:"name"`
	Similarity float64 `json:"confidence"`
}

// Matcher identifies an embedding against the enrolled records.
type Matcher struct {
	Store database.IdentityReader
}

// Match returns the nearest record when its similarity is strictly above
// threshold, nil otherwise. The similarity is rounded to 4 decimals.
func (m Matcher) Match(ctx context.Context, emb []float32, threshold float64) (*MatchResult, error) {
	neighbors, err := m.Store.NearestNeighbors(ctx, emb, constants.NearestNeighborK)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor query: %w", err)
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	top := neighbors[0]
	if top.Similarity <= threshold {
		return nil, nil
	}
	return &MatchResult{
		StaffID:    top.Record.StaffID,
		Name:       top.Record.Name,
		Similarity: facematch.RoundScore(top.Similarity),
	}, nil
}
