// Package dedup materializes catalog aliases as filesystem links.
//
// After a primary artifact lands on disk, every entry whose dedup source
// names that artifact's remote path gets a symlink at its own local path
// instead of a second download. The one hard rule here: a link is never
// created unless its target exists, so no alias can ever dangle.
package dedup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackdrop/shuttle/internal/logger"
	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/catalog"
	"github.com/stackdrop/shuttle/pkg/metrics"
)

// Action records one intended or applied link operation.
type Action struct {
	Group      string `json:"group"`
	Name       string `json:"name"`
	LinkPath   string `json:"linkPath"`
	TargetPath string `json:"targetPath"`
	Applied    bool   `json:"applied"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes one resolution pass.
type Report struct {
	RemotePath string   `json:"remotePath"`
	Actions    []Action `json:"actions"`
	Failed     int      `json:"failed"`
}

// Resolver creates alias links from catalog state.
type Resolver struct {
	catalog *catalog.Store
	metrics *metrics.SyncMetrics
	dryRun  bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDryRun makes the resolver log intended actions without touching the
// filesystem.
func WithDryRun(dry bool) Option {
	return func(r *Resolver) { r.dryRun = dry }
}

// WithMetrics attaches sync metrics. A nil value is fine.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver over the given catalog.
func New(cat *catalog.Store, opts ...Option) *Resolver {
	r := &Resolver{catalog: cat}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveRemote links every alias of remotePath to the primary's local file.
//
// The primary file must exist; if it does not, no link is created and the
// call fails with a DedupError. Failures on individual aliases are recorded
// in the report and do not block the remaining aliases.
func (r *Resolver) ResolveRemote(remotePath string) (Report, error) {
	report := Report{RemotePath: remotePath}

	primary, ok, err := r.catalog.PrimaryByRemotePath(remotePath)
	if err != nil {
		return report, err
	}
	if !ok {
		return report, artifact.NewDedupError("no primary entry for remote path %s", remotePath)
	}

	if _, err := os.Stat(primary.LocalPath); err != nil {
		return report, artifact.NewDedupError(
			"primary file %s for %s is missing, refusing to create links",
			primary.LocalPath, remotePath)
	}

	aliases, err := r.catalog.AliasesOf(remotePath)
	if err != nil {
		return report, err
	}

	for _, alias := range aliases {
		action := Action{
			Group:      alias.Group,
			Name:       alias.Name,
			LinkPath:   alias.LocalPath,
			TargetPath: primary.LocalPath,
		}

		if r.dryRun {
			logger.Info("dedup dry run, would link",
				"group", alias.Group, "name", alias.Name,
				"link", alias.LocalPath, "target", primary.LocalPath)
			report.Actions = append(report.Actions, action)
			continue
		}

		if err := link(primary.LocalPath, alias.LocalPath); err != nil {
			logger.Warn("dedup link failed",
				"group", alias.Group, "name", alias.Name, "error", err)
			action.Error = err.Error()
			report.Failed++
		} else {
			action.Applied = true
			r.metrics.RecordDedupLink()
			logger.Debug("dedup link created",
				"link", alias.LocalPath, "target", primary.LocalPath)
		}
		report.Actions = append(report.Actions, action)
	}

	return report, nil
}

// ResolveName resolves by artifact name alone: the current primary entry for
// that name is looked up and its remote path resolved.
func (r *Resolver) ResolveName(name string) (Report, error) {
	primary, ok, err := r.catalog.PrimaryByName(name)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{}, artifact.NewDedupError("no primary entry named %s", name)
	}
	return r.ResolveRemote(primary.RemotePath)
}

// link creates a symlink at linkPath pointing at target, replacing whatever
// file or stale link currently occupies linkPath.
func link(target, linkPath string) error {
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return fmt.Errorf("create link parent: %w", err)
	}

	// Lstat, not Stat: a broken symlink at linkPath must be replaced too.
	if _, err := os.Lstat(linkPath); err == nil {
		if err := os.Remove(linkPath); err != nil {
			return fmt.Errorf("remove existing %s: %w", linkPath, err)
		}
	}

	if err := os.Symlink(target, linkPath); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", linkPath, target, err)
	}
	return nil
}
