package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackdrop/shuttle/pkg/service"
)

var (
	downloadMode  string
	downloadFile  string
	downloadGroup string
	downloadName  string
	downloadFrom  string
	downloadTo    string
	downloadSize  int64
	noAutoStart   bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Enqueue artifact downloads",
	Long: `Enqueue artifact downloads for the background worker.

Modes:
  all      every catalog entry
  missing  only catalog entries whose local file is absent
  single   one artifact, described by --group/--name/--from/--to
  list     an array of artifacts, read as JSON from --file (or stdin with -)

Examples:
  # Re-fetch everything the catalog knows about
  shuttle download --mode all

  # Fetch one artifact
  shuttle download --mode single --group checkpoints --name m1 \
    --from models/m1.bin --to /data/m1.bin

  # Fetch a batch described in a file
  shuttle download --mode list --file batch.json`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVar(&downloadMode, "mode", "missing", "Download mode (all|missing|list|single)")
	downloadCmd.Flags().StringVar(&downloadFile, "file", "", "JSON file with a descriptor array (list mode), - for stdin")
	downloadCmd.Flags().StringVar(&downloadGroup, "group", "", "Artifact group (single mode)")
	downloadCmd.Flags().StringVar(&downloadName, "name", "", "Artifact name (single mode)")
	downloadCmd.Flags().StringVar(&downloadFrom, "from", "", "Remote path (single mode)")
	downloadCmd.Flags().StringVar(&downloadTo, "to", "", "Local path (single mode)")
	downloadCmd.Flags().Int64Var(&downloadSize, "size", 0, "Expected size in bytes (single mode)")
	downloadCmd.Flags().BoolVar(&noAutoStart, "no-start", false, "Do not start the worker after enqueueing")
}

func runDownload(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	mode, err := service.ParseMode(downloadMode)
	if err != nil {
		return err
	}

	var payload []service.Descriptor
	switch mode {
	case service.ModeSingle:
		payload = []service.Descriptor{{
			Group:      downloadGroup,
			Name:       downloadName,
			RemotePath: downloadFrom,
			LocalPath:  downloadTo,
			Size:       downloadSize,
		}}
	case service.ModeList:
		payload, err = readDescriptors(downloadFile)
		if err != nil {
			return err
		}
	}

	svc := a.svc
	if noAutoStart {
		svc = rebuildWithoutAutoStart(a)
	}

	n, err := svc.Download(cmd.Context(), mode, payload)
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued %d artifact(s)\n", n)
	return nil
}

func rebuildWithoutAutoStart(a *app) *service.Service {
	return service.New(a.catalog, a.queue, a.progress, a.flags, a.manager,
		service.WithMetrics(a.metrics))
}

func readDescriptors(path string) ([]service.Descriptor, error) {
	if path == "" {
		return nil, fmt.Errorf("list mode requires --file")
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read descriptor file: %w", err)
	}

	var descriptors []service.Descriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("parse descriptor file: %w", err)
	}
	return descriptors, nil
}
