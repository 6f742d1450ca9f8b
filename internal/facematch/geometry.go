package facematch

// Width returns the horizontal span of the box, 0 when inverted.
func (b BBox) Width() float64 {
	return max(b[2]-b[0], 0)
}

// Height returns the vertical span of the box, 0 when inverted.
func (b BBox) Height() float64 {
	return max(b[3]-b[1], 0)
}

// Area returns width * height.
func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

// LargestFace returns the face with the largest bounding-box area.
// Ties keep the face that appears first in extraction order.
func LargestFace(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return Face{}, false
	}

	best := 0
	bestArea := faces[0].BBox.Area()
	for i := 1; i < len(faces); i++ {
		if area := faces[i].BBox.Area(); area > bestArea {
			best = i
			bestArea = area
		}
	}
	return faces[best], true
}
