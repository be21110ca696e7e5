package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	progressAll  bool
	progressPath string
)

var progressCmd = &cobra.Command{
	Use:   "progress [group] [name]",
	Short: "Show download progress",
	Long: `Show download progress for one artifact, by group+name or by local
path, or for everything with --all. Queued and in-flight records are listed
by the "active" form:

  shuttle progress checkpoints m1
  shuttle progress --path /data/m1.bin
  shuttle progress --all
  shuttle progress active`,
	Args: cobra.MaximumNArgs(2),
	RunE: runProgress,
}

var progressActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "List queued and in-flight transfers",
	RunE:  runProgressActive,
}

func init() {
	progressCmd.Flags().BoolVar(&progressAll, "all", false, "Show every record")
	progressCmd.Flags().StringVar(&progressPath, "path", "", "Look up by local path")
	progressCmd.AddCommand(progressActiveCmd)
}

func runProgress(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	p, err := printer()
	if err != nil {
		return err
	}

	if progressAll {
		all, err := a.svc.GetAllProgress()
		if err != nil {
			return err
		}
		return p.Print(all)
	}

	if progressPath != "" {
		rec, ok, err := a.svc.GetProgressByPath(progressPath)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no progress record for path %s", progressPath)
		}
		return p.Print(rec)
	}

	if len(args) != 2 {
		return fmt.Errorf("expected group and name arguments, or --path, or --all")
	}

	rec, ok, err := a.svc.GetProgress(args[0], args[1])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no progress record for %s/%s", args[0], args[1])
	}
	return p.Print(rec)
}

func runProgressActive(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	p, err := printer()
	if err != nil {
		return err
	}
	listing, err := a.svc.ListActive()
	if err != nil {
		return err
	}
	return p.Print(listing)
}
