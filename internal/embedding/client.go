// Package embedding talks to the InsightFace embedding server and adapts it
// to the face extractor the attendance core consumes.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

const defaultEmbeddingURL = "http://localhost:8000"

// Client detects faces and computes their embeddings on the embedding server
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new embedding client
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// faceDetection represents a single detected face in the server response
type faceDetection struct {
	FaceIndex int          `json:"face_index"`
	Dim       int          `json:"dim"`
	Embedding []float32    `json:"embedding"`
	BBox      []float64    `json:"bbox"` // [x1, y1, x2, y2]
	Keypoints [][2]float64 `json:"kps"`
	DetScore  float64      `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// DetectFaces posts an encoded image to /embed/face and returns the faces in
// the order the server detected them.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) ([]facematch.Face, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]facematch.Face, 0, len(resp.Faces))
	for i, det := range resp.Faces {
		if len(det.BBox) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d values", i, len(det.BBox))
		}
		if len(det.Embedding) == 0 {
			return nil, fmt.Errorf("face %d: empty embedding", i)
		}
		faces = append(faces, facematch.Face{
			BBox:      facematch.BBox{det.BBox[0], det.BBox[1], det.BBox[2], det.BBox[3]},
			Keypoints: det.Keypoints,
			DetScore:  det.DetScore,
			Embedding: det.Embedding,
		})
	}
	return faces, nil
}

// Health checks that the embedding server is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// postMultipartImage posts the image as the "file" form field with a content
// type sniffed from its magic bytes.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}
