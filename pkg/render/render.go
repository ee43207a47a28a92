// Package render hands positioned graphs to the external image renderer.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/logger"
)

// ErrRender is matched by every renderer failure.
var ErrRender = errors.New("render failed")

// Error describes a failed render call.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("render failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("render failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrRender
}

// Style selects the output of a render call.
type Style struct {
	Format string `json:"format" validate:"omitempty,oneof=png svg"`
	Theme  string `json:"theme,omitempty" validate:"omitempty,oneof=light dark"`
	Width  int    `json:"width,omitempty" validate:"omitempty,min=200,max=8000"`
	Height int    `json:"height,omitempty" validate:"omitempty,min=200,max=8000"`
}

// Image is a rendered graph.
type Image struct {
	Data        []byte
	ContentType string
}

// Extension returns the file extension matching the content type.
func (i *Image) Extension() string {
	if strings.Contains(i.ContentType, "svg") {
		return "svg"
	}
	return "png"
}

// Renderer turns a positioned graph into image bytes.
type Renderer interface {
	Render(ctx context.Context, pg *common.PositionedGraph, style Style) (*Image, error)
}

type node struct {
	ID    string            `json:"id"`
	Label string            `json:"label"`
	Type  common.EntityType `json:"type"`
	X     float64           `json:"x"`
	Y     float64           `json:"y"`
}

type edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type"`
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
}

type renderRequest struct {
	Nodes  []node  `json:"nodes"`
	Edges  []edge  `json:"edges"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Style  Style   `json:"style"`
}

// HTTPRenderer posts the graph as JSON to a render service and returns the
// response body as the image.
//
// A HTTPRenderer should be created using NewHTTPRenderer.
type HTTPRenderer struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPRendererParams configures a HTTPRenderer.
type NewHTTPRendererParams struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

const maxImageBytes = 32 << 20

func NewHTTPRenderer(params NewHTTPRendererParams) *HTTPRenderer {
	r := &HTTPRenderer{
		url:     params.URL,
		timeout: params.Timeout,
		client:  params.Client,
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	return r
}

func newRenderRequest(pg *common.PositionedGraph, style Style) renderRequest {
	req := renderRequest{
		Nodes:  make([]node, 0, len(pg.Graph.Entities)),
		Edges:  make([]edge, 0, len(pg.Graph.Relationships)),
		Width:  pg.Width,
		Height: pg.Height,
		Style:  style,
	}
	if req.Style.Format == "" {
		req.Style.Format = "png"
	}
	for _, e := range pg.Graph.Entities {
		p := pg.Positions[e.ID]
		req.Nodes = append(req.Nodes, node{ID: e.ID, Label: e.Name, Type: e.Type, X: p.X, Y: p.Y})
	}
	for _, r := range pg.Graph.Relationships {
		req.Edges = append(req.Edges, edge{
			Source: r.SourceID,
			Target: r.TargetID,
			Type:   r.Type,
			Label:  r.Label,
			Weight: r.Weight,
		})
	}
	return req
}

func (r *HTTPRenderer) Render(ctx context.Context, pg *common.PositionedGraph, style Style) (*Image, error) {
	if r.url == "" {
		return nil, &Error{Err: errors.New("no renderer configured")}
	}

	body, err := json.Marshal(newRenderRequest(pg, style))
	if err != nil {
		return nil, &Error{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, &Error{Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Err: errors.New("empty image")}
	}
	if len(data) > maxImageBytes {
		return nil, &Error{Err: errors.New("image too large")}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	logger.Debug("[Render] Rendered graph", "bytes", len(data), "type", contentType, "duration", time.Since(start))
	return &Image{Data: data, ContentType: contentType}, nil
}
