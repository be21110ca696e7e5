package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackdrop/shuttle/pkg/artifact"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and edit the download queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued tasks",
	RunE:  runQueueList,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <group> <name>",
	Short: "Remove one queued task",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueueRemove,
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRemoveCmd)
}

// taskListing renders queued tasks for the CLI.
type taskListing struct {
	Tasks []artifact.Task `json:"tasks"`
}

func (l taskListing) Headers() []string {
	return []string{"Group", "Name", "Remote", "Local Path", "Size"}
}

func (l taskListing) Rows() [][]string {
	rows := make([][]string, 0, len(l.Tasks))
	for _, t := range l.Tasks {
		rows = append(rows, []string{
			t.Group, t.Name, t.RemoteRef, t.LocalPath,
			fmt.Sprintf("%d", t.ExpectedSize),
		})
	}
	return rows
}

func (l taskListing) PlainLines() []string {
	lines := make([]string, 0, len(l.Tasks))
	for _, t := range l.Tasks {
		lines = append(lines, fmt.Sprintf("%s/%s %s -> %s",
			t.Group, t.Name, t.RemoteRef, t.LocalPath))
	}
	return lines
}

func runQueueList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	p, err := printer()
	if err != nil {
		return err
	}
	tasks, err := a.svc.QueueList()
	if err != nil {
		return err
	}
	return p.Print(taskListing{Tasks: tasks})
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.svc.RemoveFromQueue(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Removed %s/%s from queue\n", args[0], args[1])
	return nil
}
