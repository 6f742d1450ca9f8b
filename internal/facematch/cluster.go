package facematch

// Aggregator groups embeddings into clusters with a greedy nearest-centroid pass.
//
// The result depends on the order embeddings are fed in; there is no
// reclustering, and clusters are never split or removed while assigning.
type Aggregator struct {
	// Threshold is the similarity an embedding must strictly exceed to join
	// an existing cluster.
	Threshold float64
}

// Assign adds emb to the most similar cluster when that similarity is above
// the threshold, updating its center to the running mean. Otherwise it starts
// a new cluster. Clusters of a different width never take emb. The (possibly
// grown) slice is returned.
func (a Aggregator) Assign(clusters []Cluster, emb []float32) []Cluster {
	bestIdx := -1
	bestSim := 0.0
	for i := range clusters {
		if len(clusters[i].Center) != len(emb) {
			continue
		}
		sim := CosineSimilarity(emb, clusters[i].Center)
		if bestIdx == -1 || sim > bestSim {
			bestIdx = i
			bestSim = sim
		}
	}

	if bestIdx >= 0 && bestSim > a.Threshold {
		c := &clusters[bestIdx]
		n := float64(c.Count)
		for i := range c.Center {
			c.Center[i] = float32((float64(c.Center[i])*n + float64(emb[i])) / (n + 1))
		}
		c.Count++
		return clusters
	}

	center := make([]float32, len(emb))
	copy(center, emb)
	return append(clusters, Cluster{Center: center, Count: 1})
}

// FilterClusters drops clusters seen fewer than minSamples times, keeping order.
func FilterClusters(clusters []Cluster, minSamples int) []Cluster {
	kept := make([]Cluster, 0, len(clusters))
	for _, c := range clusters {
		if c.Count >= minSamples {
			kept = append(kept, c)
		}
	}
	return kept
}
