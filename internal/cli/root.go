// Package cli implements the shrink command line.
package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

type rootOptions struct {
	verbose bool
}

// NewRootCmd builds the shrink command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "shrink",
		Short: "Reduce images to JPEGs that fit a byte budget",
		Long: `shrink re-encodes images as JPEG at the highest quality that still
fits a target size. Quality is found by bisection over [0, 1].

Run it once on a file with "shrink reduce", or as an HTTP service with
"shrink serve".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every encoding attempt")
	cmd.SetVersionTemplate(fmt.Sprintf(
		"shrink %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))

	cmd.AddCommand(newServeCmd(opts), newReduceCmd(opts))
	return cmd
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// logVerbose prints a message only when --verbose is set.
func (o *rootOptions) logVerbose(w io.Writer, format string, args ...any) {
	if o.verbose {
		fmt.Fprintf(w, "[shrink] "+format+"\n", args...)
	}
}
