// Package catalog is the authoritative store of known artifacts: what each
// one is called, where it lives remotely, where it belongs locally and
// whether it is a dedup alias of another entry. Every other component derives
// its work from this document.
package catalog

import (
	"context"
	"os"
	"sort"

	"github.com/stackdrop/shuttle/internal/flock"
	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/state"
)

// Doc maps group -> name -> entry.
type Doc map[string]map[string]artifact.Entry

// Store is the artifact catalog, persisted as one JSON document.
type Store struct {
	doc *state.Document[Doc]
}

// New opens the catalog under the given state root.
func New(paths state.Paths) *Store {
	lock := flock.New(paths.Lock("catalog"))
	return &Store{
		doc: state.NewDocument(paths.Catalog(), lock, func() Doc {
			return make(Doc)
		}),
	}
}

// Upsert creates or replaces an entry.
//
// Invariant enforced at the store boundary: an alias (DedupSource set) never
// carries a DownloadRef; aliases are materialized by linking, not fetching.
func (s *Store) Upsert(ctx context.Context, e artifact.Entry) error {
	if e.Group == "" || e.Name == "" {
		return artifact.NewConfigError("entry is missing group or name")
	}
	if e.LocalPath == "" {
		return artifact.NewConfigError("entry %s/%s is missing localPath", e.Group, e.Name)
	}
	if e.IsAlias() && e.DownloadRef != "" {
		return artifact.NewConfigError(
			"entry %s/%s has both dedupSource and downloadRef", e.Group, e.Name)
	}
	return s.doc.Update(ctx, func(doc Doc) (Doc, error) {
		names, ok := doc[e.Group]
		if !ok {
			names = make(map[string]artifact.Entry)
			doc[e.Group] = names
		}
		names[e.Name] = e
		return doc, nil
	})
}

// Delete removes an entry. Deleting an absent entry is not an error.
func (s *Store) Delete(ctx context.Context, group, name string) error {
	return s.doc.Update(ctx, func(doc Doc) (Doc, error) {
		if names, ok := doc[group]; ok {
			delete(names, name)
			if len(names) == 0 {
				delete(doc, group)
			}
		}
		return doc, nil
	})
}

// Get returns one entry.
func (s *Store) Get(group, name string) (artifact.Entry, bool, error) {
	doc, err := s.doc.Load()
	if err != nil {
		return artifact.Entry{}, false, err
	}
	names, ok := doc[group]
	if !ok {
		return artifact.Entry{}, false, nil
	}
	e, ok := names[name]
	return e, ok, nil
}

// List returns every entry, ordered by group then name.
func (s *Store) List() ([]artifact.Entry, error) {
	doc, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	var out []artifact.Entry
	for _, names := range doc {
		for _, e := range names {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Primaries returns every non-alias entry.
func (s *Store) Primaries() ([]artifact.Entry, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if !e.IsAlias() {
			out = append(out, e)
		}
	}
	return out, nil
}

// AliasesOf returns every entry whose dedup source is remotePath, across all
// groups.
func (s *Store) AliasesOf(remotePath string) ([]artifact.Entry, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []artifact.Entry
	for _, e := range entries {
		if e.DedupSource == remotePath {
			out = append(out, e)
		}
	}
	return out, nil
}

// PrimaryByRemotePath returns the primary entry for a remote path.
func (s *Store) PrimaryByRemotePath(remotePath string) (artifact.Entry, bool, error) {
	entries, err := s.List()
	if err != nil {
		return artifact.Entry{}, false, err
	}
	for _, e := range entries {
		if e.RemotePath == remotePath && !e.IsAlias() {
			return e, true, nil
		}
	}
	return artifact.Entry{}, false, nil
}

// PrimaryByName returns the primary entry with the given name, searching all
// groups. Used when dedup resolution is requested by name alone.
func (s *Store) PrimaryByName(name string) (artifact.Entry, bool, error) {
	entries, err := s.List()
	if err != nil {
		return artifact.Entry{}, false, err
	}
	for _, e := range entries {
		if e.Name == name && !e.IsAlias() {
			return e, true, nil
		}
	}
	return artifact.Entry{}, false, nil
}

// MarkAlias converts an existing entry into an alias of dedupSource,
// dropping its download ref.
func (s *Store) MarkAlias(ctx context.Context, group, name, dedupSource string) error {
	return s.doc.Update(ctx, func(doc Doc) (Doc, error) {
		names, ok := doc[group]
		if !ok {
			return doc, artifact.NewConfigError("no entry %s/%s", group, name)
		}
		e, ok := names[name]
		if !ok {
			return doc, artifact.NewConfigError("no entry %s/%s", group, name)
		}
		e.DedupSource = dedupSource
		e.DownloadRef = ""
		names[name] = e
		return doc, nil
	})
}

// Missing returns the primary entries whose local path does not exist on the
// filesystem. Entries are reported, never purged: a missing local file does
// not imply the remote object is gone.
func (s *Store) Missing() ([]artifact.Entry, error) {
	primaries, err := s.Primaries()
	if err != nil {
		return nil, err
	}
	var out []artifact.Entry
	for _, e := range primaries {
		if _, err := os.Stat(e.LocalPath); os.IsNotExist(err) {
			out = append(out, e)
		}
	}
	return out, nil
}
