package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/harliandi/go-shrink/internal/reducer"
	"github.com/harliandi/go-shrink/pkg/bytesize"
	"github.com/harliandi/go-shrink/pkg/quality"
)

const (
	maxMemory = 32 << 20 // 32MB max in-memory for multipart parsing
	// Multipart framing on top of the file itself
	formOverhead = 1 << 20

	formatJSON   = "json"
	formatBinary = "binary"
)

var errNoFile = errors.New("no file provided")

// Submitter runs reductions, normally a *reducer.WorkerPool.
type Submitter interface {
	Submit(ctx context.Context, req reducer.Request) (*reducer.Outcome, error)
}

// Handler handles HTTP requests for image reduction
type Handler struct {
	pool        Submitter
	maxUploadMB int
	targetBytes int64
}

// New creates a new Handler. targetBytes is used when a request names no target.
func New(pool Submitter, targetBytes int64, maxUploadMB int) *Handler {
	return &Handler{
		pool:        pool,
		maxUploadMB: maxUploadMB,
		targetBytes: targetBytes,
	}
}

// reduceResponse is the JSON body for format=json and for unreachable targets.
type reduceResponse struct {
	Status        string  `json:"status"`
	Quality       float64 `json:"quality,omitempty"`
	Target        int64   `json:"target"`
	TargetHuman   string  `json:"target_human"`
	OriginalSize  int     `json:"original_size"`
	OriginalHuman string  `json:"original_human"`
	ReducedSize   int     `json:"reduced_size,omitempty"`
	ReducedHuman  string  `json:"reduced_human,omitempty"`
	SmallestSize  int     `json:"smallest_size,omitempty"`
	SmallestHuman string  `json:"smallest_human,omitempty"`
	Attempts      int     `json:"attempts"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	SourceFormat  string  `json:"source_format,omitempty"`
	Encoder       string  `json:"encoder,omitempty"`
	Cached        bool    `json:"cached"`
	Error         string  `json:"error,omitempty"`
	Data          string  `json:"data,omitempty"`
}

// Reduce handles the /reduce endpoint
func (h *Handler) Reduce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := int64(h.maxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)

	data, err := readUpload(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, http.ErrNotMultipart):
			http.Error(w, "Content-Type must be multipart/form-data", http.StatusBadRequest)
		case errors.Is(err, errNoFile):
			http.Error(w, "No file provided", http.StatusBadRequest)
		default:
			http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
		}
		return
	}

	req, format, err := h.parseRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Data = data

	out, err := h.pool.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch {
	case out.Status == reducer.StatusUnreachable:
		resp := newResponse(out, req.TargetBytes)
		resp.Error = fmt.Sprintf("target %s is below the smallest encoding %s",
			bytesize.Format(req.TargetBytes), bytesize.Format(int64(out.SmallestSize)))
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case format == formatJSON:
		h.sendJSONResponse(w, out, req.TargetBytes)
	default:
		h.sendBinaryResponse(w, r, out)
	}
}

// readUpload returns the bytes of the "file" form field
func readUpload(r *http.Request, limit int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errNoFile
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, reducer.ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, errNoFile
	}
	return data, nil
}

// parseRequest reads search parameters from the query string or form.
func (h *Handler) parseRequest(r *http.Request) (reducer.Request, string, error) {
	req := reducer.Request{TargetBytes: h.targetBytes}

	if s := r.FormValue("target"); s != "" {
		n, err := bytesize.Parse(s)
		if err != nil {
			return req, "", err
		}
		req.TargetBytes = n
	} else if s := r.FormValue("target_kb"); s != "" {
		kb, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return req, "", fmt.Errorf("%w: target_kb %q", quality.ErrInvalidTarget, s)
		}
		if req.TargetBytes, err = bytesize.FromKB(kb); err != nil {
			return req, "", err
		}
	}
	if req.TargetBytes <= 0 {
		return req, "", fmt.Errorf("%w: target must be at least one byte", quality.ErrInvalidTarget)
	}

	var err error
	if req.Iterations, err = intParam(r, "iterations"); err != nil {
		return req, "", err
	}
	if req.MinQuality, err = floatParam(r, "min_quality"); err != nil {
		return req, "", err
	}
	if req.MaxQuality, err = floatParam(r, "max_quality"); err != nil {
		return req, "", err
	}
	if req.Scale, err = floatParam(r, "scale"); err != nil {
		return req, "", err
	}
	if s := r.FormValue("force"); s != "" {
		if req.Force, err = strconv.ParseBool(s); err != nil {
			return req, "", fmt.Errorf("%w: force %q", quality.ErrInvalidOptions, s)
		}
	}

	format := r.FormValue("format")
	switch format {
	case "", formatBinary, formatJSON:
	default:
		return req, "", fmt.Errorf("%w: format %q must be json or binary", quality.ErrInvalidOptions, format)
	}
	return req, format, nil
}

func intParam(r *http.Request, name string) (int, error) {
	s := r.FormValue(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", quality.ErrInvalidOptions, name, s)
	}
	return v, nil
}

func floatParam(r *http.Request, name string) (float64, error) {
	s := r.FormValue(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %q", quality.ErrInvalidOptions, name, s)
	}
	return v, nil
}

// statusFor maps reduction errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reducer.ErrPoolBusy), errors.Is(err, reducer.ErrPoolStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, quality.ErrInvalidTarget), errors.Is(err, quality.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, reducer.ErrFileTooLarge), errors.Is(err, reducer.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, quality.ErrInvalidInput), errors.Is(err, reducer.ErrInvalidImageDimensions):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Server busy, please retry", status)
	case http.StatusGatewayTimeout:
		http.Error(w, "Reduction timed out", status)
	case http.StatusRequestTimeout:
		log.Printf("Reduction cancelled: %v", err)
		http.Error(w, "Request cancelled", status)
	case http.StatusInternalServerError:
		log.Printf("Reduction error: %v", err)
		http.Error(w, "Reduction failed", status)
	default:
		http.Error(w, err.Error(), status)
	}
}

func newResponse(out *reducer.Outcome, target int64) reduceResponse {
	resp := reduceResponse{
		Status:        string(out.Status),
		Quality:       out.Quality,
		Target:        target,
		TargetHuman:   bytesize.Format(target),
		OriginalSize:  out.OriginalSize,
		OriginalHuman: bytesize.Format(int64(out.OriginalSize)),
		Attempts:      out.Attempts,
		Width:         out.Width,
		Height:        out.Height,
		SourceFormat:  out.SourceFormat,
		Encoder:       out.Encoder,
		Cached:        out.Cached,
	}
	if out.Status == reducer.StatusUnreachable {
		resp.SmallestSize = out.SmallestSize
		resp.SmallestHuman = bytesize.Format(int64(out.SmallestSize))
	} else {
		resp.ReducedSize = out.Size
		resp.ReducedHuman = bytesize.Format(int64(out.Size))
	}
	return resp
}

// sendJSONResponse sends the result as JSON with a base64 data URL
func (h *Handler) sendJSONResponse(w http.ResponseWriter, out *reducer.Outcome, target int64) {
	resp := newResponse(out, target)
	resp.Data = "data:" + contentType(out) + ";base64," + base64.StdEncoding.EncodeToString(out.Data)
	writeJSON(w, http.StatusOK, resp)
}

// sendBinaryResponse sends the image bytes with reduction details in headers
func (h *Handler) sendBinaryResponse(w http.ResponseWriter, r *http.Request, out *reducer.Outcome) {
	hdr := w.Header()
	hdr.Set("ETag", out.ETag)
	hdr.Set("X-Reduce-Status", string(out.Status))
	hdr.Set("X-Original-Size", strconv.Itoa(out.OriginalSize))
	hdr.Set("X-Reduced-Size", strconv.Itoa(out.Size))
	if out.Status == reducer.StatusReduced {
		hdr.Set("X-Quality", strconv.FormatFloat(out.Quality, 'f', 4, 64))
		hdr.Set("X-Attempts", strconv.Itoa(out.Attempts))
		hdr.Set("X-Encoder", out.Encoder)
	}
	if out.ETag != "" && r.Header.Get("If-None-Match") == out.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	hdr.Set("Content-Type", contentType(out))
	hdr.Set("Content-Length", strconv.Itoa(len(out.Data)))
	hdr.Set("Cache-Control", "public, max-age=31536000")
	w.WriteHeader(http.StatusOK)
	w.Write(out.Data)
}

func contentType(out *reducer.Outcome) string {
	if out.Status == reducer.StatusReduced {
		return "image/jpeg"
	}
	return "image/" + out.SourceFormat
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write JSON response: %v", err)
	}
}

// Health handles the /health endpoint for readiness/liveness probes
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
