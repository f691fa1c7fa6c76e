// Package quality finds the highest encoder quality whose output fits
// under a byte budget.
//
// The search treats the encoder as a black box with a single scalar knob
// in [0,1] and assumes encoded size does not decrease as quality rises.
// It runs a fixed number of bisection steps, so after n iterations the
// returned quality is within (MaxQuality-MinQuality)/2^n of the threshold.
package quality

import (
	"context"
	"errors"
	"fmt"
	"image"
)

const (
	// DefaultIterations gives a quality resolution of roughly 1/1024.
	DefaultIterations = 10
	// DefaultMinQuality is the lower bound of the searched range.
	DefaultMinQuality = 0.0
	// DefaultMaxQuality is the upper bound of the searched range.
	DefaultMaxQuality = 1.0
)

var (
	// ErrInvalidInput is returned for a missing or empty image or encoder.
	ErrInvalidInput = errors.New("invalid input image")
	// ErrInvalidTarget is returned when the byte budget is not a positive number.
	ErrInvalidTarget = errors.New("invalid target size")
	// ErrInvalidOptions is returned for a bad iteration count or quality range.
	ErrInvalidOptions = errors.New("invalid search options")
	// ErrEncodingFailure wraps any error returned by the encoder.
	ErrEncodingFailure = errors.New("encoding failed")
)

// Encoder encodes an image at a normalized quality in [0,1].
type Encoder interface {
	Encode(img image.Image, quality float64) ([]byte, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(img image.Image, quality float64) ([]byte, error)

// Encode calls f(img, quality).
func (f EncoderFunc) Encode(img image.Image, quality float64) ([]byte, error) {
	return f(img, quality)
}

// Options tunes a search. The zero value searches [0,1] in DefaultIterations steps.
type Options struct {
	Iterations int
	MinQuality float64
	MaxQuality float64

	// Observe, if set, is called after every attempt with whether it fit.
	Observe func(a Attempt, fits bool)
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Iterations: DefaultIterations,
		MinQuality: DefaultMinQuality,
		MaxQuality: DefaultMaxQuality,
	}
}

// withDefaults fills zero fields and checks the result.
func (o Options) withDefaults() (Options, error) {
	if o.Iterations == 0 {
		o.Iterations = DefaultIterations
	}
	if o.MinQuality == 0 && o.MaxQuality == 0 {
		o.MinQuality, o.MaxQuality = DefaultMinQuality, DefaultMaxQuality
	}
	if o.Iterations < 0 {
		return o, fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidOptions, o.Iterations)
	}
	if o.MinQuality < 0 || o.MaxQuality > 1 || o.MinQuality >= o.MaxQuality {
		return o, fmt.Errorf("%w: quality range [%g, %g] must lie within [0, 1] with min < max",
			ErrInvalidOptions, o.MinQuality, o.MaxQuality)
	}
	return o, nil
}

// Validate reports whether the options would be accepted by FindBestEncoding.
func (o Options) Validate() error {
	_, err := o.withDefaults()
	return err
}

// Attempt is a single encoding tried during a search.
type Attempt struct {
	Quality float64
	Data    []byte
}

// Size returns the encoded length in bytes.
func (a Attempt) Size() int {
	return len(a.Data)
}

// Result is the outcome of a search.
type Result struct {
	// Best is the highest-quality attempt that fit, nil when none did.
	Best *Attempt
	// Attempts counts encoder invocations.
	Attempts int
	// SmallestSize is the smallest encoded size seen across all attempts.
	SmallestSize int
}

// Unreachable reports whether no attempt met the target.
func (r Result) Unreachable() bool {
	return r.Best == nil
}

// FindBestEncoding bisects the quality range to find the best encoding of img
// that is at most targetBytes long.
//
// A target no attempt can meet is not an error: the returned Result reports
// Unreachable. The context is checked between iterations; an encoder error
// aborts the search with no partial result.
func FindBestEncoding(ctx context.Context, img image.Image, targetBytes int64, enc Encoder, opts Options) (Result, error) {
	if img == nil || img.Bounds().Empty() {
		return Result{}, ErrInvalidInput
	}
	if targetBytes <= 0 {
		return Result{}, fmt.Errorf("%w: %d bytes", ErrInvalidTarget, targetBytes)
	}
	if enc == nil {
		return Result{}, fmt.Errorf("%w: no encoder", ErrInvalidInput)
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return Result{}, err
	}

	low, high := opts.MinQuality, opts.MaxQuality
	var res Result

	for i := 0; i < opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		q := (low + high) / 2
		data, err := enc.Encode(img, q)
		if err != nil {
			return Result{}, fmt.Errorf("%w at quality %.4f: %w", ErrEncodingFailure, q, err)
		}
		res.Attempts++

		attempt := Attempt{Quality: q, Data: data}
		if res.SmallestSize == 0 || attempt.Size() < res.SmallestSize {
			res.SmallestSize = attempt.Size()
		}

		fits := int64(attempt.Size()) <= targetBytes
		if opts.Observe != nil {
			opts.Observe(attempt, fits)
		}

		if fits {
			// Later fits come from a raised lower bound, so they are never worse.
			res.Best = &attempt
			low = q
		} else {
			high = q
		}
	}

	return res, nil
}
