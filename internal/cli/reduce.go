package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harliandi/go-shrink/internal/config"
	"github.com/harliandi/go-shrink/internal/reducer"
	"github.com/harliandi/go-shrink/pkg/bytesize"
	"github.com/harliandi/go-shrink/pkg/jpeg"
	"github.com/harliandi/go-shrink/pkg/quality"
	"github.com/spf13/cobra"
)

// ErrUnreachable is returned when no quality fits the target.
var ErrUnreachable = errors.New("target size unreachable")

type reduceOptions struct {
	target     string
	output     string
	iterations int
	minQuality float64
	maxQuality float64
	scale      float64
	encoder    string
	force      bool
}

func newReduceCmd(root *rootOptions) *cobra.Command {
	opts := &reduceOptions{}

	cmd := &cobra.Command{
		Use:   "reduce <input>",
		Short: "Re-encode one image as a JPEG under a target size",
		Long: `Decodes <input> (jpeg, png, gif, webp, heif, bmp or tiff) and writes the
highest quality JPEG found that is no larger than --target.

If the input already fits it is copied unchanged unless --force is given.
The target defaults to TARGET_SIZE_KB.`,
		Example: `  shrink reduce photo.heic --target 200KB
  shrink reduce scan.png -t 1.5MB -o scan.jpg --scale 0.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReduce(cmd, root, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.target, "target", "t", "", `target size, e.g. "100KB", "1.5MB" or "204800"`)
	f.StringVarP(&opts.output, "output", "o", "", "output file (default <input>.min.jpg)")
	f.IntVarP(&opts.iterations, "iterations", "n", quality.DefaultIterations, "bisection steps")
	f.Float64Var(&opts.minQuality, "min-quality", quality.DefaultMinQuality, "lower bound of the quality range")
	f.Float64Var(&opts.maxQuality, "max-quality", quality.DefaultMaxQuality, "upper bound of the quality range")
	f.Float64Var(&opts.scale, "scale", 1, "resize factor in (0, 1] applied before encoding")
	f.StringVarP(&opts.encoder, "encoder", "e", "std", "encoder backend: "+strings.Join(jpeg.Names(), " or "))
	f.BoolVarP(&opts.force, "force", "f", false, "re-encode even if the input already fits")
	return cmd
}

func runReduce(cmd *cobra.Command, root *rootOptions, opts *reduceOptions, input string) error {
	start := time.Now()

	target := config.Load().TargetBytes()
	if opts.target != "" {
		n, err := bytesize.Parse(opts.target)
		if err != nil {
			return err
		}
		target = n
	}

	enc, err := jpeg.ByName(opts.encoder)
	if err != nil {
		return err
	}
	searchOpts := quality.Options{
		Iterations: opts.iterations,
		MinQuality: opts.minQuality,
		MaxQuality: opts.maxQuality,
	}
	if err := searchOpts.Validate(); err != nil {
		return err
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	errOut := cmd.ErrOrStderr()
	root.logVerbose(errOut, "input:   %s (%s)", input, bytesize.Format(int64(len(data))))
	root.logVerbose(errOut, "target:  %s", bytesize.Format(target))
	root.logVerbose(errOut, "encoder: %s, iterations: %d, range: [%g, %g]",
		enc.Name(), opts.iterations, opts.minQuality, opts.maxQuality)

	r := reducer.New(enc, searchOpts, reducer.WithAttemptLogging(root.verbose))
	out, err := r.Reduce(cmd.Context(), reducer.Request{
		Data:        data,
		TargetBytes: target,
		Scale:       opts.scale,
		Force:       opts.force,
	})
	if err != nil {
		return err
	}
	if out.Status == reducer.StatusUnreachable {
		return fmt.Errorf("%w: %s is below the smallest encoding %s after %d attempts",
			ErrUnreachable, bytesize.Format(target), bytesize.Format(int64(out.SmallestSize)), out.Attempts)
	}

	dest := opts.output
	if dest == "" {
		dest = defaultOutput(input, out)
	}
	if err := os.WriteFile(dest, out.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	w := cmd.OutOrStdout()
	if out.Status == reducer.StatusUnchanged {
		fmt.Fprintf(w, "%s already fits %s (%s), copied to %s\n",
			input, bytesize.Format(target), bytesize.Format(int64(out.OriginalSize)), dest)
		return nil
	}
	fmt.Fprintf(w, "%s: %s -> %s (quality %.4f, %d attempts, %v)\n",
		dest, bytesize.Format(int64(out.OriginalSize)), bytesize.Format(int64(out.Size)),
		out.Quality, out.Attempts, time.Since(start).Round(time.Millisecond))
	return nil
}

// defaultOutput derives the output path from the input path.
func defaultOutput(input string, out *reducer.Outcome) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	if out.Status == reducer.StatusUnchanged {
		return base + ".min" + filepath.Ext(input)
	}
	return base + ".min.jpg"
}
