package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/dedup"
	"github.com/stackdrop/shuttle/pkg/engine"
)

var (
	workerClearStop bool
	workerForce     bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage the background worker",
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background worker",
	Long: `Start the background worker if one is not already running.

While the global stop flag is raised (after "worker stop") new workers
refuse to start; pass --clear-stop to clear it first.`,
	RunE: runWorkerStart,
}

var workerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background worker",
	Long: `Raise the global stop flag. The worker finishes its current item
and exits. With --force the in-flight transfer is cancelled and the process
is terminated.`,
	RunE: runWorkerStop,
}

var workerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show worker status",
	RunE:  runWorkerStatus,
}

var workerClearStopCmd = &cobra.Command{
	Use:   "clear-stop",
	Short: "Clear the global stop flag",
	RunE:  runWorkerClearStop,
}

var workerRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the worker loop in the foreground",
	Hidden: true,
	RunE:   runWorkerRun,
}

func init() {
	workerStartCmd.Flags().BoolVar(&workerClearStop, "clear-stop", false, "Clear the global stop flag before starting")
	workerStopCmd.Flags().BoolVar(&workerForce, "force", false, "Cancel the in-flight transfer and terminate the process")

	workerCmd.AddCommand(workerStartCmd)
	workerCmd.AddCommand(workerStopCmd)
	workerCmd.AddCommand(workerStatusCmd)
	workerCmd.AddCommand(workerClearStopCmd)
	workerCmd.AddCommand(workerRunCmd)
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	pid, started, err := a.manager.Start(cmd.Context(), workerClearStop)
	if err != nil {
		return err
	}
	if started {
		fmt.Printf("Worker started (pid %d)\n", pid)
	} else {
		fmt.Printf("Worker already running (pid %d)\n", pid)
	}
	return nil
}

func runWorkerStop(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	found, err := a.manager.Stop(cmd.Context(), workerForce)
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("No worker running; stop flag raised")
		return nil
	}
	if workerForce {
		fmt.Println("Worker terminated")
	} else {
		fmt.Println("Worker will stop after the current item")
	}
	return nil
}

func runWorkerStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ws, err := a.manager.Status()
	if err != nil {
		return err
	}
	if ws.Status == artifact.WorkerRunning {
		fmt.Printf("Worker running (pid %d, since %s)\n", ws.PID, ws.StartedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Worker stopped")
	}
	return nil
}

func runWorkerClearStop(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.manager.ClearStop(); err != nil {
		return err
	}
	fmt.Println("Stop flag cleared")
	return nil
}

func runWorkerRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := a.newStore(ctx)
	if err != nil {
		return err
	}

	resolver := dedup.New(a.catalog, dedup.WithMetrics(a.metrics))
	eng := engine.New(a.queue, a.progress, a.flags, a.catalog, resolver, store, engine.Options{
		GracePeriod:     a.cfg.Worker.GracePeriod,
		PollInterval:    a.cfg.Worker.PollInterval,
		TransferTimeout: a.cfg.Transfer.Timeout,
		SkipGlobalStop:  a.cfg.Worker.SkipGlobalStop,
		Metrics:         a.metrics,
	})

	return a.manager.Run(ctx, eng, a.metrics)
}
