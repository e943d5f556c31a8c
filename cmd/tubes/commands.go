package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes"
	"github.com/roadrunner-server/tubes/queue"
	"github.com/spf13/cobra"
)

func (a *app) putCmd() *cobra.Command {
	var timeout, delay time.Duration
	var priority uint32
	var wait bool

	cmd := &cobra.Command{
		Use:   "put <tube> <payload(json)>",
		Short: "Put a job into the tube and print its id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = errors.Op("tubes_cli_put")

			if !json.Valid([]byte(args[1])) {
				return errors.E(op, errors.Str("payload is not valid json"))
			}

			opts := tubes.Options{}
			if cmd.Flags().Changed("timeout") {
				opts.With("timeout", timeout)
			}
			if cmd.Flags().Changed("delay") {
				opts.With("delay", delay)
			}
			if cmd.Flags().Changed("priority") {
				opts.With("priority", priority)
			}

			return a.run(cmd.Context(), func(ctx context.Context, w *tubes.Worker) error {
				job, err := w.Spawn(ctx, args[0], json.RawMessage(args[1]), opts)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), job.ID())
				if !wait {
					return nil
				}

				return a.wait(ctx, cmd, job)
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "job time-to-run")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the job is ready")
	cmd.Flags().Uint32Var(&priority, "priority", 1000, "job priority, lower is more urgent")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait until the job is consumed")

	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <tube> <id>",
		Short: "Print the state of a job, success when it was consumed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}

			return a.run(cmd.Context(), func(ctx context.Context, w *tubes.Worker) error {
				status, err := w.Job(args[0], id).Status(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func (a *app) waitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wait <tube> <id>",
		Short: "Wait until the job is consumed, fails if it gets buried",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}

			return a.run(cmd.Context(), func(ctx context.Context, w *tubes.Worker) error {
				return a.wait(ctx, cmd, w.Job(args[0], id))
			})
		},
	}
}

func (a *app) wait(ctx context.Context, cmd *cobra.Command, job *tubes.Job) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var last queue.State
	err := job.Done(ctx, func(state queue.State) {
		if state != last {
			fmt.Fprintln(cmd.ErrOrStderr(), state)
			last = state
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), tubes.StatusSuccess)
	return nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid job id %q: %v", s, err)
	}

	return id, nil
}
