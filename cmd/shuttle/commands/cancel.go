package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cancelAll  bool
	cancelPath string
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [group] [name]",
	Short: "Cancel downloads",
	Long: `Cancel a download by group+name or by local path, or everything
with --all. A still-queued task is removed immediately; an in-flight task is
interrupted by the worker at the next progress checkpoint.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelAll, "all", false, "Cancel every queued and in-flight task")
	cancelCmd.Flags().StringVar(&cancelPath, "path", "", "Cancel by local path")
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	switch {
	case cancelAll:
		if err := a.svc.CancelAll(ctx); err != nil {
			return err
		}
		fmt.Println("All downloads cancelled")
	case cancelPath != "":
		if err := a.svc.CancelByPath(ctx, cancelPath); err != nil {
			return err
		}
		fmt.Printf("Cancelled download for %s\n", cancelPath)
	case len(args) == 2:
		if err := a.svc.Cancel(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Cancelled %s/%s\n", args[0], args[1])
	default:
		return fmt.Errorf("expected group and name arguments, or --path, or --all")
	}
	return nil
}
