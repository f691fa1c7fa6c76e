package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/harliandi/go-shrink/internal/reducer"
	shrinkjpeg "github.com/harliandi/go-shrink/pkg/jpeg"
	"github.com/harliandi/go-shrink/pkg/quality"
)

// stubPool returns a canned outcome or error and records the request.
type stubPool struct {
	out *reducer.Outcome
	err error
	got reducer.Request
}

func (s *stubPool) Submit(_ context.Context, req reducer.Request) (*reducer.Outcome, error) {
	s.got = req
	return s.out, s.err
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(x), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func createUpload(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "upload.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	writer.Close()
	return body, writer.FormDataContentType()
}

func postReduce(t *testing.T, h *Handler, query string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := createUpload(t, data)
	req := httptest.NewRequest(http.MethodPost, "/reduce"+query, body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	h.Reduce(w, req)
	return w
}

func newRealHandler(t *testing.T) *Handler {
	t.Helper()
	pool := reducer.NewWorkerPool(reducer.New(shrinkjpeg.Std{}, quality.DefaultOptions()), 2)
	pool.Start()
	t.Cleanup(pool.Stop)
	return New(pool, 500*1024, 10)
}

func TestNew(t *testing.T) {
	h := New(&stubPool{}, 1000, 10)
	if h == nil {
		t.Fatal("New() returned nil")
	}
	if h.maxUploadMB != 10 || h.targetBytes != 1000 {
		t.Errorf("Unexpected handler settings: %+v", h)
	}
}

func TestHandler_Reduce_MethodNotAllowed(t *testing.T) {
	h := New(&stubPool{}, 1000, 10)

	req := httptest.NewRequest(http.MethodGet, "/reduce", nil)
	w := httptest.NewRecorder()
	h.Reduce(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHandler_Reduce_NotMultipart(t *testing.T) {
	h := New(&stubPool{}, 1000, 10)

	req := httptest.NewRequest(http.MethodPost, "/reduce", strings.NewReader("test"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Reduce(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandler_Reduce_NoFile(t *testing.T) {
	h := New(&stubPool{}, 1000, 10)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("target", "10KB")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/reduce", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	h.Reduce(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandler_Reduce_RequestTooLarge(t *testing.T) {
	h := New(&stubPool{}, 1000, 1)

	w := postReduce(t, h, "", make([]byte, 3<<20))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", w.Code)
	}
}

func TestHandler_Reduce_Parameters(t *testing.T) {
	tests := []struct {
		query string
		check func(t *testing.T, req reducer.Request)
	}{
		{"", func(t *testing.T, req reducer.Request) {
			if req.TargetBytes != 1000 {
				t.Errorf("default target = %d, want 1000", req.TargetBytes)
			}
		}},
		{"?target=100KB", func(t *testing.T, req reducer.Request) {
			if req.TargetBytes != 100*1024 {
				t.Errorf("target = %d, want %d", req.TargetBytes, 100*1024)
			}
		}},
		{"?target_kb=1.5", func(t *testing.T, req reducer.Request) {
			if req.TargetBytes != 1536 {
				t.Errorf("target = %d, want 1536", req.TargetBytes)
			}
		}},
		{"?iterations=6&min_quality=0.1&max_quality=0.9&scale=0.5&force=true", func(t *testing.T, req reducer.Request) {
			if req.Iterations != 6 || req.MinQuality != 0.1 || req.MaxQuality != 0.9 || req.Scale != 0.5 || !req.Force {
				t.Errorf("unexpected request %+v", req)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			pool := &stubPool{out: &reducer.Outcome{Status: reducer.StatusReduced, Data: []byte{0xFF, 0xD8}}}
			h := New(pool, 1000, 10)

			w := postReduce(t, h, tt.query, []byte("payload"))
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
			}
			if string(pool.got.Data) != "payload" {
				t.Errorf("Data = %q, want payload", pool.got.Data)
			}
			tt.check(t, pool.got)
		})
	}
}

func TestHandler_Reduce_InvalidParameters(t *testing.T) {
	queries := []string{
		"?target=lots",
		"?target=0",
		"?target_kb=-1",
		"?target_kb=abc",
		"?iterations=many",
		"?min_quality=x",
		"?scale=NaN",
		"?force=sometimes",
		"?format=xml",
	}

	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			pool := &stubPool{}
			h := New(pool, 1000, 10)

			w := postReduce(t, h, q, []byte("payload"))
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
			if pool.got.Data != nil {
				t.Error("Request should not reach the pool")
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{reducer.ErrPoolBusy, http.StatusServiceUnavailable},
		{reducer.ErrPoolStopped, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{context.Canceled, http.StatusRequestTimeout},
		{fmt.Errorf("%w: 0 bytes", quality.ErrInvalidTarget), http.StatusBadRequest},
		{quality.ErrInvalidOptions, http.StatusBadRequest},
		{reducer.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{reducer.ErrImageTooLarge, http.StatusRequestEntityTooLarge},
		{reducer.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{reducer.ErrInvalidImage, http.StatusUnsupportedMediaType},
		{reducer.ErrInvalidImageDimensions, http.StatusUnsupportedMediaType},
		{fmt.Errorf("%w at quality 0.5000: %w", quality.ErrEncodingFailure, errors.New("boom")), http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestHandler_Reduce_PoolBusy(t *testing.T) {
	h := New(&stubPool{err: reducer.ErrPoolBusy}, 1000, 10)

	w := postReduce(t, h, "", []byte("payload"))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestHandler_Reduce_Unsupported(t *testing.T) {
	h := newRealHandler(t)

	w := postReduce(t, h, "?target=1", []byte("definitely not an image"))

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", w.Code)
	}
}

func TestHandler_Reduce_Binary(t *testing.T) {
	h := newRealHandler(t)
	data := testPNG(t, 160, 120)
	target := len(data) / 4

	w := postReduce(t, h, "?target="+strconv.Itoa(target), data)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %s, want image/jpeg", ct)
	}
	if w.Body.Len() > target {
		t.Errorf("Body %d bytes exceeds target %d", w.Body.Len(), target)
	}
	if got := w.Header().Get("X-Reduced-Size"); got != strconv.Itoa(w.Body.Len()) {
		t.Errorf("X-Reduced-Size = %s, body %d", got, w.Body.Len())
	}
	if got := w.Header().Get("X-Original-Size"); got != strconv.Itoa(len(data)) {
		t.Errorf("X-Original-Size = %s, want %d", got, len(data))
	}
	if w.Header().Get("X-Attempts") != "10" {
		t.Errorf("X-Attempts = %s, want 10", w.Header().Get("X-Attempts"))
	}
	q, err := strconv.ParseFloat(w.Header().Get("X-Quality"), 64)
	if err != nil || q <= 0 || q >= 1 {
		t.Errorf("X-Quality = %s", w.Header().Get("X-Quality"))
	}
	if w.Header().Get("ETag") == "" {
		t.Error("Expected ETag header")
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Errorf("Body is not a JPEG: %v", err)
	}
}

func TestHandler_Reduce_NotModified(t *testing.T) {
	pool := &stubPool{out: &reducer.Outcome{Status: reducer.StatusReduced, Data: []byte{0xFF, 0xD8}, ETag: `"abc"`}}
	h := New(pool, 1000, 10)

	body, ct := createUpload(t, []byte("payload"))
	req := httptest.NewRequest(http.MethodPost, "/reduce", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("If-None-Match", `"abc"`)
	w := httptest.NewRecorder()
	h.Reduce(w, req)

	if w.Code != http.StatusNotModified {
		t.Errorf("Expected status 304, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Error("304 response should have no body")
	}
}

func TestHandler_Reduce_Unchanged(t *testing.T) {
	h := newRealHandler(t)
	data := testPNG(t, 16, 16)

	w := postReduce(t, h, "?target=1MB", data)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("X-Reduce-Status") != "unchanged" {
		t.Errorf("X-Reduce-Status = %s, want unchanged", w.Header().Get("X-Reduce-Status"))
	}
	if w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Content-Type = %s, want image/png", w.Header().Get("Content-Type"))
	}
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Error("Expected the original bytes")
	}
}

func TestHandler_Reduce_JSON(t *testing.T) {
	h := newRealHandler(t)
	data := testPNG(t, 160, 120)
	target := len(data) / 4

	w := postReduce(t, h, fmt.Sprintf("?target=%d&format=json", target), data)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", w.Header().Get("Content-Type"))
	}

	var resp reduceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.Status != "reduced" || resp.ReducedSize > target || resp.OriginalSize != len(data) {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if resp.ReducedHuman == "" || resp.OriginalHuman == "" {
		t.Error("Expected human readable sizes")
	}

	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(resp.Data, prefix) {
		t.Fatalf("Data should start with %s", prefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(resp.Data, prefix))
	if err != nil {
		t.Fatalf("Invalid base64: %v", err)
	}
	if len(raw) != resp.ReducedSize {
		t.Errorf("Decoded %d bytes, reduced_size %d", len(raw), resp.ReducedSize)
	}
}

func TestHandler_Reduce_Unreachable(t *testing.T) {
	h := newRealHandler(t)
	data := testPNG(t, 160, 120)

	w := postReduce(t, h, "?target=100", data)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", w.Code)
	}

	var resp reduceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.Status != "unreachable" || resp.SmallestSize <= 100 || resp.Error == "" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if resp.Data != "" {
		t.Error("Unreachable response should carry no data")
	}
}

func TestHandler_Health(t *testing.T) {
	h := New(&stubPool{}, 1000, 10)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", w.Header().Get("Content-Type"))
	}
	if body := w.Body.String(); body != `{"status":"ok"}` {
		t.Errorf("Expected body {\"status\":\"ok\"}, got %s", body)
	}
}
