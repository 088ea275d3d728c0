// Package vision wraps the face detection/embedding and pose estimation
// collaborators and the identity/gesture decisions built on top of them.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BoundingBox locates a detected face in pixel coordinates.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Point is a normalized image coordinate; y increases downward.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmarks holds the named pose keypoints the gesture detector needs.
type Landmarks struct {
	LeftWrist     Point `json:"left_wrist"`
	RightWrist    Point `json:"right_wrist"`
	LeftShoulder  Point `json:"left_shoulder"`
	RightShoulder Point `json:"right_shoulder"`
}

// Client calls the vision microservice for detection, embedding, and pose.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, all calls return canned results so
// the rest of the pipeline can run without the service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // model inference can take time
		},
	}
}

// DetectFaces returns bounding boxes for every face in the frame.
func (c *Client) DetectFaces(ctx context.Context, image []byte) ([]BoundingBox, error) {
	if c.Skip {
		return []BoundingBox{{Top: 10, Right: 110, Bottom: 110, Left: 10}}, nil
	}
	var out struct {
		Faces []BoundingBox `json:"faces"`
	}
	if err := c.post(ctx, "/detect", map[string]any{"image": base64.StdEncoding.EncodeToString(image)}, &out); err != nil {
		return nil, err
	}
	return out.Faces, nil
}

// EmbedFaces returns one embedding per bounding box, in box order.
func (c *Client) EmbedFaces(ctx context.Context, image []byte, boxes []BoundingBox) ([][]float64, error) {
	if c.Skip {
		embeddings := make([][]float64, len(boxes))
		for i := range embeddings {
			embeddings[i] = make([]float64, 128)
		}
		return embeddings, nil
	}
	var out struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	payload := map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
		"boxes": boxes,
	}
	if err := c.post(ctx, "/embed", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(boxes) {
		return nil, fmt.Errorf("vision service returned %d embeddings for %d boxes", len(out.Embeddings), len(boxes))
	}
	return out.Embeddings, nil
}

// EstimatePose returns the pose landmarks for the frame, or nil when no
// pose was found. A missing pose is a normal outcome, not an error.
func (c *Client) EstimatePose(ctx context.Context, image []byte) (*Landmarks, error) {
	if c.Skip {
		return &Landmarks{
			LeftWrist:     Point{X: 0.4, Y: 0.8},
			RightWrist:    Point{X: 0.6, Y: 0.8},
			LeftShoulder:  Point{X: 0.4, Y: 0.4},
			RightShoulder: Point{X: 0.6, Y: 0.4},
		}, nil
	}
	var out struct {
		Found     bool       `json:"found"`
		Landmarks *Landmarks `json:"landmarks"`
	}
	if err := c.post(ctx, "/pose", map[string]any{"image": base64.StdEncoding.EncodeToString(image)}, &out); err != nil {
		return nil, err
	}
	if !out.Found {
		return nil, nil
	}
	return out.Landmarks, nil
}

// Health checks if the vision service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("vision service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vision service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("vision service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vision service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
