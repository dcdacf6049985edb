// Command noisereducer denoises speech recordings, trains the custom model
// and manages stored jobs.
//
// Usage:
//
//	noisereducer [flags] <command> [args]
//
// Commands:
//
//	denoise   - run the custom model and/or demucs on audio files
//	separate  - run demucs only and print the extracted stem
//	train     - fit the custom model to paired noisy/clean audio
//	evaluate  - score a weights file on a paired dataset
//	inspect   - print the model topology and audio file metadata
//	jobs      - list, show and delete stored jobs
//	plot      - draw a comparison image for two audio files
//	manifest  - build a pairing manifest from two directories
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
