package facematch

import "testing"

func TestBBoxArea(t *testing.T) {
	tests := []struct {
		name     string
		bbox     BBox
		expected float64
	}{
		{"square", BBox{0, 0, 100, 100}, 10000},
		{"offset rectangle", BBox{10, 20, 60, 40}, 1000},
		{"degenerate", BBox{5, 5, 5, 50}, 0},
		{"inverted", BBox{50, 50, 10, 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bbox.Area(); got != tt.expected {
				t.Errorf("Area(%v) = %v, want %v", tt.bbox, got, tt.expected)
			}
		})
	}
}

func TestLargestFace(t *testing.T) {
	big := Face{BBox: BBox{0, 0, 100, 100}, Embedding: []float32{1, 0}}
	small := Face{BBox: BBox{0, 0, 50, 50}, Embedding: []float32{0, 1}}
	twin := Face{BBox: BBox{200, 200, 300, 300}, Embedding: []float32{1, 1}}

	tests := []struct {
		name  string
		faces []Face
		want  []float32
		found bool
	}{
		{"empty", nil, nil, false},
		{"single", []Face{small}, small.Embedding, true},
		{"larger first", []Face{big, small}, big.Embedding, true},
		{"larger last", []Face{small, big}, big.Embedding, true},
		{"tie keeps first", []Face{big, twin}, big.Embedding, true},
		{"tie keeps first reversed", []Face{twin, big}, twin.Embedding, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LargestFace(tt.faces)
			if ok != tt.found {
				t.Fatalf("LargestFace() found = %v, want %v", ok, tt.found)
			}
			if !ok {
				return
			}
			if len(got.Embedding) != len(tt.want) || got.Embedding[0] != tt.want[0] || got.Embedding[1] != tt.want[1] {
				t.Errorf("LargestFace() picked %v, want %v", got.Embedding, tt.want)
			}
		})
	}
}
