package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/storage"
)

func newJobsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List, show and delete stored jobs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := storage.NewDBClientWithPath(opts.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			jobs, err := db.ListJobs(limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tBACKEND\tINPUT\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Status, j.Backend, j.InputName, humanize.Time(j.CreatedAt))
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum jobs to show (0 for all)")

	show := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.NewDBClientWithPath(opts.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			j, err := db.GetJob(args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "id\t%s\n", j.ID)
			fmt.Fprintf(tw, "input\t%s (%s)\n", j.InputName, time.Duration(j.DurationMs)*time.Millisecond)
			fmt.Fprintf(tw, "backend\t%s\n", j.Backend)
			fmt.Fprintf(tw, "status\t%s\n", j.Status)
			fmt.Fprintf(tw, "created\t%s (%s)\n", j.CreatedAt.Format(time.RFC3339), humanize.Time(j.CreatedAt))
			fmt.Fprintf(tw, "elapsed\t%s\n", time.Duration(j.ElapsedMs)*time.Millisecond)
			for _, row := range [][2]string{
				{"custom", j.CustomOutput}, {"custom error", j.CustomError},
				{"demucs", j.DemucsOutput}, {"demucs error", j.DemucsError},
				{"plot", j.PlotOutput},
			} {
				if row[1] != "" {
					fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
				}
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.DeleteJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", args[0])
			return nil
		},
	}

	history := &cobra.Command{
		Use:   "history <run-id>",
		Short: "Show the recorded epochs of a training run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.NewDBClientWithPath(opts.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			epochs, err := db.TrainingHistory(args[0])
			if err != nil {
				return err
			}
			if len(epochs) == 0 {
				return fmt.Errorf("no epochs recorded for run %s", args[0])
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EPOCH\tTRAIN\tEVAL\tDURATION")
			for _, e := range epochs {
				fmt.Fprintf(tw, "%d\t%.6f\t%.6f\t%s\n", e.Epoch, e.TrainLoss, e.EvalLoss, e.Duration)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(list, show, del, history)
	return cmd
}
