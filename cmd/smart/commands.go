package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/api"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/pipeline"
)

var newCmd = &cobra.Command{
	Use:   "new <firm name>",
	Short: "Create a pipeline for a PE firm",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		firm := strings.Join(args, " ")
		p, err := client().Create(cmd.Context(), firm)
		if err != nil {
			return err
		}
		fmt.Printf("created pipeline %s for %q\n", p.ID, p.FirmName)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <pipeline-id>",
	Short: "Run the next stage and watch it to completion",
	Long: `Run starts the pipeline's next stage and polls the daemon until the
stage comes to rest. With --all, each completed stage immediately starts
the next one until the report is ready.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		id := args[0]
		c := client()

		for {
			if err := c.Resume(cmd.Context(), id); err != nil {
				return err
			}
			final, err := watch(cmd.Context(), c, id)
			if err != nil {
				return err
			}
			if final.Failed() || final.Cancelled() {
				return fmt.Errorf("pipeline stopped at %s", final)
			}
			if final == pipeline.StatusDataExtractionComplete {
				fmt.Println("report ready: smart report", id)
				return nil
			}
			if !all {
				return nil
			}
		}
	},
}

// watch polls the daemon until the pipeline comes to rest and returns the
// resting status.
func watch(ctx context.Context, c *api.Client, id string) (pipeline.Status, error) {
	var last pipeline.Status
	poller := pipeline.NewPoller(pipeline.Options{
		Interval: cfg.Polling.Interval,
		Grace:    cfg.Polling.Grace,
		OnError: func(id string, err error) {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		},
	})
	// The poller reports every fetch; only print transitions.
	poller.Start(ctx, id, c.FetchStatus, func(_ string, upd pipeline.StatusUpdate) {
		if upd.Status != last {
			fmt.Printf("  %s\n", upd.Status)
		}
		last = upd.Status
	})

	for poller.Watching(id) {
		select {
		case <-ctx.Done():
			poller.Stop(id)
			return last, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return last, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipelines, err := client().List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFIRM\tSTATUS\tUPDATED")
		for _, p := range pipelines {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.FirmName, p.Status, p.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <pipeline-id>",
	Short: "Show a pipeline's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := client().Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("pipeline: %s\nfirm:     %s\nstatus:   %s\n", p.ID, p.FirmName, p.Status)
		if p.Error != nil {
			fmt.Printf("error:    %s\n", *p.Error)
		}
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <pipeline-id>",
	Short: "Start the pipeline's next stage without watching it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().Resume(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("stage started")
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <pipeline-id>",
	Short: "Cancel the pipeline's running stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("cancellation requested")
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <pipeline-id>",
	Short: "Print the pipeline's firm report as JSON, or write it to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := client().Report(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			fmt.Println(string(raw))
			return nil
		}
		if err := os.WriteFile(out, append([]byte(raw), '\n'), 0644); err != nil {
			return err
		}
		fmt.Printf("report written to %s\n", out)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <pipeline-id>",
	Short: "Delete a pipeline and all of its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	},
}
