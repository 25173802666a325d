package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reportflow/internal/types"
)

func TestHTTPRendererSendsLayout(t *testing.T) {
	var gotBody renderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("%PDF-1.4 rendered"))
	}))
	defer srv.Close()

	r := NewHTTPRenderer(srv.URL, 5*time.Second)
	doc, err := r.Render(context.Background(), "Weekly Sales", `{"widgets":[]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		t.Error("expected PDF bytes back")
	}
	if gotBody.Title != "Weekly Sales" {
		t.Errorf("unexpected title: %s", gotBody.Title)
	}
	if gotBody.Layout != `{"widgets":[]}` {
		t.Errorf("unexpected layout: %s", gotBody.Layout)
	}
}

func TestHTTPRendererNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewHTTPRenderer(srv.URL, 5*time.Second)
	_, err := r.Render(context.Background(), "t", "{}")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamRender {
		t.Errorf("unexpected error code: %s", appErr.Code)
	}
}

func TestHTTPRendererEmptyDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewHTTPRenderer(srv.URL, 5*time.Second)
	if _, err := r.Render(context.Background(), "t", "{}"); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestStubRendererProducesPDF(t *testing.T) {
	doc, err := StubRenderer{}.Render(context.Background(), "Weekly (Sales)", "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		t.Error("stub output should start with a PDF header")
	}
	if !strings.Contains(string(doc), `Weekly \(Sales\)`) {
		t.Error("title parentheses should be escaped in the content stream")
	}
}

// slowRenderer records peak concurrency while simulating a slow render.
type slowRenderer struct {
	current int32
	peak    int32
}

func (r *slowRenderer) Render(ctx context.Context, title, layout string) ([]byte, error) {
	cur := atomic.AddInt32(&r.current, 1)
	for {
		peak := atomic.LoadInt32(&r.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&r.peak, peak, cur) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&r.current, -1)
	return []byte("%PDF"), nil
}

func TestPoolBoundsConcurrency(t *testing.T) {
	inner := &slowRenderer{}
	pool := NewPool(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Render(context.Background(), "t", "{}"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := atomic.LoadInt32(&inner.peak); peak > 2 {
		t.Errorf("expected at most 2 concurrent renders, saw %d", peak)
	}
}

func TestPoolHonorsContextWhileWaiting(t *testing.T) {
	inner := &slowRenderer{}
	pool := NewPool(inner, 1)

	started := make(chan struct{})
	go func() {
		close(started)
		pool.Render(context.Background(), "t", "{}")
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Render(ctx, "t", "{}"); err == nil {
		t.Error("expected context error while waiting for a slot")
	}
}
