// Package cli implements queuectl, the operator CLI over the job store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis"
	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/internal/jobstore"
	"github.com/cuongbtq/restaurant-analysis/internal/queue"
	"github.com/spf13/cobra"
)

// Env is what every command operates on
type Env struct {
	Service      *analysis.Service
	Introspector *analysis.Introspector
	Queue        *queue.Queue
	Store        jobstore.Store
	Close        func() error
}

// Opener builds the Env from a config file path
type Opener func(ctx context.Context, configPath string) (*Env, error)

type envFunc func(cmd *cobra.Command) (*Env, error)

// NewRootCommand returns the queuectl command tree. The Env is opened at most once per run.
func NewRootCommand(open Opener) *cobra.Command {
	var (
		configPath string
		env        *Env
	)

	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and operate the website analysis queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if env != nil && env.Close != nil {
				return env.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/worker-service/config.yaml", "Path to configuration file")

	// opened on first use so help and completion work without a database
	getEnv := func(cmd *cobra.Command) (*Env, error) {
		if env != nil {
			return env, nil
		}
		opened, err := open(cmd.Context(), configPath)
		if err != nil {
			return nil, err
		}
		env = opened
		return env, nil
	}

	root.AddCommand(statsCmd(getEnv))
	root.AddCommand(deadLettersCmd(getEnv))
	root.AddCommand(statusCmd(getEnv))
	root.AddCommand(cancelCmd(getEnv))
	root.AddCommand(requeueCmd(getEnv))
	root.AddCommand(reapCmd(getEnv))
	root.AddCommand(purgeCmd(getEnv))
	return root
}

func statsCmd(env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env(cmd)
			if err != nil {
				return err
			}
			stats, err := e.Introspector.Stats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STATE\tJOBS")
			for _, state := range domain.AllJobStates {
				fmt.Fprintf(w, "%s\t%d\n", state, stats.Counts[state])
			}
			fmt.Fprintf(w, "Total\t%d\n", stats.Total)
			return w.Flush()
		},
	}
}

func deadLettersCmd(env envFunc) *cobra.Command {
	var (
		pageSize int
		cursor   string
	)

	cmd := &cobra.Command{
		Use:     "dead-letters",
		Aliases: []string{"dlq"},
		Short:   "List dead-lettered jobs, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env(cmd)
			if err != nil {
				return err
			}
			page, err := e.Introspector.DeadLetters(cmd.Context(), cursor, pageSize)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(page.Jobs) == 0 {
				fmt.Fprintln(out, "Dead letter queue is empty.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB ID\tURL\tATTEMPTS\tUPDATED\tLAST ERROR")
			for _, dl := range page.Jobs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					dl.JobID, dl.InputURL, dl.Attempt, dl.UpdatedAt.Format(time.RFC3339), dl.LastError)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if page.NextCursor != "" {
				fmt.Fprintf(out, "\nNext page: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", analysis.DefaultPageSize, "Jobs per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor printed by the previous page")
	return cmd
}

func statusCmd(env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env(cmd)
			if err != nil {
				return err
			}
			status, err := e.Service.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return describe(err, args[0])
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Job ID:\t%s\n", status.JobID)
			fmt.Fprintf(w, "State:\t%s\n", status.State)
			fmt.Fprintf(w, "Attempt:\t%d/%d\n", status.Attempt, status.MaxAttempts)
			fmt.Fprintf(w, "Created:\t%s\n", status.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Updated:\t%s\n", status.UpdatedAt.Format(time.RFC3339))
			if status.LastError != "" {
				fmt.Fprintf(w, "Last error:\t%s\n", status.LastError)
			}
			if title, ok := status.Result["title"].(string); ok {
				fmt.Fprintf(w, "Title:\t%s\n", title)
			}
			return w.Flush()
		},
	}
}

func cancelCmd(env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [job-id]",
		Short: "Cancel a job that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env(cmd)
			if err != nil {
				return err
			}
			status, err := e.Service.Cancel(cmd.Context(), args[0])
			if err != nil {
				return describe(err, args[0])
			}

			if status.State == domain.JobStateCancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled.\n", status.JobID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is running; its worker will cancel it at the next safe point.\n", status.JobID)
			}
			return nil
		},
	}
}

func requeueCmd(env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [job-id]",
		Short: "Move a dead-lettered job back to Pending with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env(cmd)
			if err != nil {
				return err
			}
			status, err := e.Service.Requeue(cmd.Context(), args[0])
			if err != nil {
				return describe(err, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s moved from dead letters to %s.\n", status.JobID, status.State)
			return nil
		},
	}
}

func reapCmd(env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Recover jobs whose lease expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env(cmd)
			if err != nil {
				return err
			}
			recovered, err := e.Queue.RecoverExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d job(s) with expired leases.\n", recovered)
			return nil
		},
	}
}

func purgeCmd(env envFunc) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished jobs last updated before --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			e, err := env(cmd)
			if err != nil {
				return err
			}
			removed, err := e.Store.PurgeTerminal(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d finished job(s).\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Minimum age of finished jobs to delete")
	return cmd
}

// describe turns domain errors into operator-facing messages
func describe(err error, jobID string) error {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return fmt.Errorf("job %s not found", jobID)
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return fmt.Errorf("job %s: %w", jobID, err)
	default:
		return err
	}
}

// Execute runs the command tree, writing errors to errOut
func Execute(ctx context.Context, root *cobra.Command, errOut io.Writer) int {
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, "Error:", err)
		return 1
	}
	return 0
}
