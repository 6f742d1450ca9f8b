// Package facematch holds the pure face-matching math shared by the attendance
// core, the storage backends and the CLI: cosine similarity, bounding-box policy
// and the online clustering used for video attendance.
package facematch

// BBox is a detection box in pixel coordinates: x1, y1, x2, y2.
type BBox [4]float64

// Face is a single detection returned by the embedding extractor.
type Face struct {
	BBox      BBox         `json:"bbox"`
	Keypoints [][2]float64 `json:"keypoints,omitempty"`
	DetScore  float64      `json:"det_score"`
	Embedding []float32    `json:"embedding"`
}

// Cluster is a running centroid of embeddings believed to belong to one person
// within a single video analysis.
type Cluster struct {
	Center []float32
	Count  int
}
