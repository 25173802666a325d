// Package render turns a dashboard layout into a PDF document. Production
// deployments point it at an HTTP rendering service; local and test
// environments fall back to a stub that emits a minimal valid PDF.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"reportflow/internal/types"
)

// Renderer produces the report document for a dashboard layout.
type Renderer interface {
	Render(ctx context.Context, title, layout string) ([]byte, error)
}

// renderRequest is the JSON body sent to the rendering service.
type renderRequest struct {
	Title  string `json:"title"`
	Layout string `json:"layout"`
}

// HTTPRenderer calls an external rendering service. All calls go through a
// circuit breaker so a wedged renderer fails fast instead of tying up the
// worker pool for the full timeout on every job.
type HTTPRenderer struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	url     string
}

var _ Renderer = (*HTTPRenderer)(nil)

// NewHTTPRenderer creates a renderer client for the given service URL.
func NewHTTPRenderer(url string, timeout time.Duration) *HTTPRenderer {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "renderer",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &HTTPRenderer{
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
		url:     url,
	}
}

// Render posts the layout to the rendering service and returns the PDF
// bytes.
func (r *HTTPRenderer) Render(ctx context.Context, title, layout string) ([]byte, error) {
	body, err := json.Marshal(renderRequest{Title: title, Layout: layout})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode render request", err)
	}

	resp, err := r.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("renderer returned status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamRender, "render request failed", err)
	}
	defer resp.Body.Close()

	doc, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamRender, "failed to read rendered document", err)
	}
	if len(doc) == 0 {
		return nil, types.NewAppError(types.ErrCodeUpstreamRender, "renderer returned an empty document", nil)
	}
	return doc, nil
}

// StubRenderer emits a minimal single-page PDF containing the report title.
// Used when no rendering service is configured.
type StubRenderer struct{}

var _ Renderer = (*StubRenderer)(nil)

// Render returns a minimal valid PDF document.
func (StubRenderer) Render(_ context.Context, title, _ string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("1 0 obj <</Type /Catalog /Pages 2 0 R>> endobj\n")
	buf.WriteString("2 0 obj <</Type /Pages /Kids [3 0 R] /Count 1>> endobj\n")
	buf.WriteString("3 0 obj <</Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources <</Font <</F1 5 0 R>>>>>> endobj\n")
	stream := fmt.Sprintf("BT /F1 18 Tf 72 720 Td (%s) Tj ET", pdfEscape(title))
	buf.WriteString(fmt.Sprintf("4 0 obj <</Length %d>> stream\n%s\nendstream endobj\n", len(stream), stream))
	buf.WriteString("5 0 obj <</Type /Font /Subtype /Type1 /BaseFont /Helvetica>> endobj\n")
	buf.WriteString("trailer <</Root 1 0 R>>\n%%EOF\n")
	return buf.Bytes(), nil
}

// pdfEscape escapes the characters with special meaning inside a PDF text
// literal.
func pdfEscape(s string) string {
	var out bytes.Buffer
	for _, r := range s {
		switch r {
		case '(', ')', '\\':
			out.WriteByte('\\')
			out.WriteRune(r)
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}
