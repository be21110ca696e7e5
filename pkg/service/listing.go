package service

import (
	"fmt"
	"io"
	"sort"

	"github.com/stackdrop/shuttle/internal/cli/output"
	"github.com/stackdrop/shuttle/pkg/artifact"
)

// ActiveItem is one row of the active-transfers listing.
type ActiveItem struct {
	Group      string          `json:"group"`
	Name       string          `json:"name"`
	Status     artifact.Status `json:"status"`
	Downloaded int64           `json:"downloaded"`
	TotalSize  int64           `json:"totalSize"`
	LocalPath  string          `json:"localPath"`
}

// ActiveListing is the renderable set of queued and in-flight transfers.
type ActiveListing struct {
	Items []ActiveItem `json:"items"`
}

// Headers implements output.TableRenderer.
func (l ActiveListing) Headers() []string {
	return []string{"Group", "Name", "Status", "Downloaded", "Total", "Local Path"}
}

// Rows implements output.TableRenderer.
func (l ActiveListing) Rows() [][]string {
	rows := make([][]string, 0, len(l.Items))
	for _, it := range l.Items {
		rows = append(rows, []string{
			it.Group, it.Name, string(it.Status),
			fmt.Sprintf("%d", it.Downloaded),
			fmt.Sprintf("%d", it.TotalSize),
			it.LocalPath,
		})
	}
	return rows
}

// PlainLines implements output.PlainRenderer.
func (l ActiveListing) PlainLines() []string {
	lines := make([]string, 0, len(l.Items))
	for _, it := range l.Items {
		lines = append(lines, fmt.Sprintf("%s/%s %s %d/%d %s",
			it.Group, it.Name, it.Status, it.Downloaded, it.TotalSize, it.LocalPath))
	}
	return lines
}

// ListActive collects queued and downloading records as a listing.
func (s *Service) ListActive() (ActiveListing, error) {
	active, err := s.progress.Active()
	if err != nil {
		return ActiveListing{}, err
	}

	var listing ActiveListing
	for group, names := range active {
		for name, rec := range names {
			listing.Items = append(listing.Items, ActiveItem{
				Group:      group,
				Name:       name,
				Status:     rec.Status,
				Downloaded: rec.Downloaded,
				TotalSize:  rec.TotalSize,
				LocalPath:  rec.LocalPath,
			})
		}
	}
	sort.Slice(listing.Items, func(i, j int) bool {
		if listing.Items[i].Group != listing.Items[j].Group {
			return listing.Items[i].Group < listing.Items[j].Group
		}
		return listing.Items[i].Name < listing.Items[j].Name
	})
	return listing, nil
}

// PrintActive renders the active listing to w in the requested format.
func (s *Service) PrintActive(w io.Writer, format output.Format) error {
	listing, err := s.ListActive()
	if err != nil {
		return err
	}
	return output.NewPrinter(w, format).Print(listing)
}
