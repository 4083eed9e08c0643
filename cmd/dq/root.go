package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/lcnr/docker-queue/internal/client"
	"github.com/lcnr/docker-queue/internal/models"
)

const defaultPort = 12000

type options struct {
	port    int
	timeout time.Duration
}

func (o *options) client() *client.Client {
	c := client.NewLocal(o.port)
	c.HTTPClient.Timeout = o.timeout
	return c
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "dq",
		Short:         "Queue docker containers so only one runs at a time",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().IntVarP(&opts.port, "port", "p", portFromEnv(),
		"port of the queue server (env DQ_PORT)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "request timeout")

	cmd.AddCommand(
		newQueueCmd(opts),
		newListCmd(opts),
		newRunningCmd(opts),
		newHealthCmd(opts),
		newStatusCmd(opts),
	)
	return cmd
}

func portFromEnv() int {
	if v := os.Getenv("DQ_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return defaultPort
}

func newQueueCmd(opts *options) *cobra.Command {
	var paused bool
	cmd := &cobra.Command{
		Use:   "queue [--paused] <docker run command...>",
		Short: "Add a docker run command to the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.StatusQueued
			if paused {
				status = models.StatusPaused
			}
			req, err := opts.client().QueueContainer(cmd.Context(), commandLine(args), status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s added to queue\n", req.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&paused, "paused", false, "queue the request without making it eligible to run")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// commandLine rebuilds the command text from argv. A single argument is
// taken as the whole command line; several are quoted so the server splits
// them back into the same words.
func commandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return shellquote.Join(args...)
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List running containers followed by the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := opts.client().ListContainers(cmd.Context())
			if err != nil {
				return err
			}
			return client.WriteContainerTable(cmd.OutOrStdout(), list)
		},
	}
}

func newRunningCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "running",
		Short: "Print the id of the container holding the run slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := opts.client().GetRunningContainer(cmd.Context())
			if err != nil {
				return err
			}
			if id == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "-")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.String())
			return nil
		},
	}
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the queue server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.client().HealthCheck(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <Queued|Paused>",
		Short: "Pause or resume a queued request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := models.ParseStatus(args[1])
			if err != nil {
				return err
			}
			req, err := opts.client().SetStatus(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", req.ID, req.Status)
			return nil
		},
	}
}
