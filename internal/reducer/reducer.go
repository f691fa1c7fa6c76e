// Package reducer turns uploaded image bytes into a JPEG that fits a byte
// budget. It decodes and validates the input, runs the quality search and
// caches outcomes.
package reducer

import (
	"context"
	"fmt"
	"image"
	"log"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/harliandi/go-shrink/pkg/bytesize"
	"github.com/harliandi/go-shrink/pkg/jpeg"
	"github.com/harliandi/go-shrink/pkg/metrics"
	"github.com/harliandi/go-shrink/pkg/quality"
)

// Status describes how a reduction ended.
type Status string

const (
	// StatusReduced means an encoding under the target was found.
	StatusReduced Status = "reduced"
	// StatusUnchanged means the original already fit and no search ran.
	StatusUnchanged Status = "unchanged"
	// StatusUnreachable means no tried quality met the target.
	StatusUnreachable Status = "unreachable"
)

// Request describes one reduction. Zero search fields fall back to the
// Reducer's defaults.
type Request struct {
	Data        []byte
	TargetBytes int64

	Iterations int
	MinQuality float64
	MaxQuality float64

	// Scale downsizes the image before searching when 0 < Scale < 1.
	Scale float64
	// Force runs the search even if the original is already under the target.
	Force bool
}

// Outcome is the result of a reduction.
type Outcome struct {
	Status       Status
	Data         []byte // JPEG for StatusReduced, the original bytes for StatusUnchanged
	Quality      float64
	OriginalSize int
	Size         int
	SmallestSize int
	Attempts     int
	Width        int
	Height       int
	SourceFormat string
	Encoder      string
	ETag         string
	Cached       bool
}

// Reducer runs reductions. It is safe for concurrent use.
type Reducer struct {
	encoder     jpeg.Encoder
	opts        quality.Options
	timeout     time.Duration
	cache       *Cache
	logAttempts bool
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithCache enables outcome caching.
func WithCache(c *Cache) Option {
	return func(r *Reducer) { r.cache = c }
}

// WithTimeout bounds each search; zero means no limit beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(r *Reducer) { r.timeout = d }
}

// WithAttemptLogging logs every encoding attempt.
func WithAttemptLogging(on bool) Option {
	return func(r *Reducer) { r.logAttempts = on }
}

// New creates a Reducer using enc and default search options opts.
func New(enc jpeg.Encoder, opts quality.Options, options ...Option) *Reducer {
	if enc == nil {
		enc = jpeg.Std{}
	}
	r := &Reducer{encoder: enc, opts: opts}
	for _, o := range options {
		o(r)
	}
	return r
}

// Encoder returns the name of the encoder backend in use.
func (r *Reducer) Encoder() string {
	return r.encoder.Name()
}

// searchOptions merges per-request overrides with the defaults.
func (r *Reducer) searchOptions(req Request) (quality.Options, error) {
	opts := r.opts
	if req.Iterations != 0 {
		opts.Iterations = req.Iterations
	}
	if req.MinQuality != 0 || req.MaxQuality != 0 {
		opts.MinQuality, opts.MaxQuality = req.MinQuality, req.MaxQuality
		if opts.MaxQuality == 0 {
			opts.MaxQuality = quality.DefaultMaxQuality
		}
	}
	if opts.Iterations == 0 {
		opts.Iterations = quality.DefaultIterations
	}
	if opts.MinQuality == 0 && opts.MaxQuality == 0 {
		opts.MaxQuality = quality.DefaultMaxQuality
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	if math.IsNaN(req.Scale) || req.Scale < 0 || req.Scale > 1 {
		return opts, fmt.Errorf("%w: scale %v must be in (0, 1]", quality.ErrInvalidOptions, req.Scale)
	}
	return opts, nil
}

// Reduce compresses req.Data until it fits req.TargetBytes.
//
// An unreachable target is reported through Outcome.Status, not as an error.
// Errors wrap quality.ErrInvalidTarget, quality.ErrInvalidOptions,
// quality.ErrInvalidInput (including ErrUnsupportedFormat and
// ErrInvalidImage), the validation errors, quality.ErrEncodingFailure or a
// context error.
func (r *Reducer) Reduce(ctx context.Context, req Request) (*Outcome, error) {
	if req.TargetBytes <= 0 {
		return nil, fmt.Errorf("%w: %d bytes", quality.ErrInvalidTarget, req.TargetBytes)
	}
	opts, err := r.searchOptions(req)
	if err != nil {
		return nil, err
	}
	if err := ValidateFile(req.Data); err != nil {
		return nil, err
	}

	originalSize := len(req.Data)
	if !req.Force && int64(originalSize) <= req.TargetBytes {
		format := DetectFormat(req.Data)
		if format == "" {
			return nil, ErrUnsupportedFormat
		}
		metrics.RecordReduction(string(StatusUnchanged), r.Encoder(), 0, originalSize, originalSize)
		return &Outcome{
			Status:       StatusUnchanged,
			Data:         req.Data,
			OriginalSize: originalSize,
			Size:         originalSize,
			SourceFormat: format,
			Encoder:      r.Encoder(),
			ETag:         etag(req.Data),
		}, nil
	}

	scale := req.Scale
	if scale == 1 {
		scale = 0
	}
	key := cacheKey(req.Data, req.TargetBytes, opts, scale, r.Encoder())
	if out, ok := r.cache.Get(key); ok {
		out.Cached = true
		return out, nil
	}

	start := time.Now()
	out, err := r.search(ctx, req, opts, scale)
	duration := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordReductionError()
		return nil, err
	}

	metrics.RecordReduction(string(out.Status), r.Encoder(), duration, originalSize, out.Size)
	if out.Status == StatusReduced {
		metrics.RecordQuality(out.Quality)
		log.Printf("Reduced %s %s -> %s at quality %.4f (%d attempts, %.2fs)",
			out.SourceFormat, bytesize.Format(int64(originalSize)), bytesize.Format(int64(out.Size)),
			out.Quality, out.Attempts, duration)
	} else {
		log.Printf("Target %s unreachable for %s %s (smallest attempt %s)",
			bytesize.Format(req.TargetBytes), out.SourceFormat, bytesize.Format(int64(originalSize)),
			bytesize.Format(int64(out.SmallestSize)))
	}

	r.cache.Add(key, out)
	return out, nil
}

func (r *Reducer) search(ctx context.Context, req Request, opts quality.Options, scale float64) (*Outcome, error) {
	img, format, err := Decode(req.Data)
	if err != nil {
		return nil, err
	}
	if err := ValidateImage(img); err != nil {
		return nil, err
	}
	if scale > 0 {
		img = scaleImage(img, scale)
	}
	img = jpeg.Normalize(img)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	opts.Observe = func(a quality.Attempt, fits bool) {
		metrics.RecordAttempt(fits)
		if r.logAttempts {
			log.Printf("Attempt quality=%.4f size=%d fits=%t", a.Quality, a.Size(), fits)
		}
	}

	res, err := quality.FindBestEncoding(ctx, img, req.TargetBytes, r.encoder, opts)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	out := &Outcome{
		Status:       StatusUnreachable,
		OriginalSize: len(req.Data),
		SmallestSize: res.SmallestSize,
		Attempts:     res.Attempts,
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceFormat: format,
		Encoder:      r.Encoder(),
	}
	if res.Best != nil {
		out.Status = StatusReduced
		out.Data = res.Best.Data
		out.Quality = res.Best.Quality
		out.Size = res.Best.Size()
		out.ETag = etag(res.Best.Data)
	}
	return out, nil
}

// scaleImage downsizes img by factor using Lanczos resampling.
func scaleImage(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}
