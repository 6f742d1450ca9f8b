package embedding

import (
	"context"
	"image"
	"log/slog"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/media"
)

// Extractor returns the faces found in a decoded image. It never fails:
// an unreadable image or an engine error yields no faces.
type Extractor interface {
	Extract(ctx context.Context, img image.Image) []facematch.Face
}

// FaceDetector is the fallible detection call an Extractor wraps.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]facematch.Face, error)
}

// FailSoft turns detector errors into empty results so that one bad frame
// does not abort a whole video analysis.
type FailSoft struct {
	Detector FaceDetector
	Logger   *slog.Logger
	// Dim is the embedding width the model produces. Faces of any other
	// width are dropped. 0 accepts any width.
	Dim int
}

// NewFailSoft wraps d, logging swallowed errors to the default logger.
func NewFailSoft(d FaceDetector) *FailSoft {
	return &FailSoft{Detector: d, Logger: slog.Default()}
}

// Extract encodes img as JPEG and detects faces in it.
func (f *FailSoft) Extract(ctx context.Context, img image.Image) []facematch.Face {
	if img == nil {
		return nil
	}
	data, err := media.EncodeJPEG(img)
	if err != nil {
		f.Logger.Warn("face extraction skipped, image not encodable", "error", err)
		return nil
	}

	faces, err := f.Detector.DetectFaces(ctx, data)
	if err != nil {
		if ctx.Err() == nil {
			f.Logger.Warn("face extraction failed, treating as no faces", "error", err)
		}
		return nil
	}

	valid := make([]facematch.Face, 0, len(faces))
	for _, face := range faces {
		if !facematch.ValidEmbedding(face.Embedding) {
			continue
		}
		if f.Dim > 0 && len(face.Embedding) != f.Dim {
			f.Logger.Warn("dropping face with unexpected embedding width", "dim", len(face.Embedding), "want", f.Dim)
			continue
		}
		valid = append(valid, face)
	}
	return valid
}
