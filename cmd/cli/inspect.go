package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/audio"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/denoiser"
)

func newInspectCmd(opts *options) *cobra.Command {
	var random bool

	cmd := &cobra.Command{
		Use:   "inspect [audio-file...]",
		Short: "Print the model topology and audio file metadata",
		Long: `Print the layers of the weights file given by --weights (or of a freshly
initialised network with --random), followed by metadata for each audio
file argument.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var net *denoiser.Network
			if random {
				net = denoiser.New(nil)
			} else {
				var err error
				if net, err = denoiser.LoadFile(opts.weights); err != nil {
					if len(args) == 0 {
						return err
					}
					opts.log.Warnf("%v", err)
				}
			}

			if net != nil {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LAYER\tIN\tOUT\tKERNEL\tPAD\tRELU\tPARAMS")
				for _, l := range net.Layers() {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%t\t%s\n",
						l.Name, l.In, l.Out, l.Kernel, l.Padding, l.ReLU, humanize.Comma(int64(l.Params)))
				}
				fmt.Fprintf(tw, "total\t\t\t\t\t\t%s\n", humanize.Comma(int64(net.NumParams())))
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			for _, path := range args {
				md, err := audio.ReadMetadata(cmd.Context(), path)
				if err != nil {
					return err
				}
				size := "?"
				if fi, err := os.Stat(path); err == nil {
					size = humanize.Bytes(uint64(fi.Size()))
				}
				fmt.Fprintf(out, "\n%s\n  format:   %s (%s)\n  duration: %.2fs\n  rate:     %d Hz\n  channels: %d\n  bits:     %d\n",
					path, md.Format, size, md.DurationSec, md.SampleRate, md.Channels, md.BitDepth)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&random, "random", false, "Inspect a randomly initialised network instead of --weights")
	return cmd
}
