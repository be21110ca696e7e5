package state

import (
	"context"
	"time"

	"github.com/stackdrop/shuttle/internal/flock"
	"github.com/stackdrop/shuttle/pkg/artifact"
)

// ProgressDoc maps group -> name -> progress record.
type ProgressDoc map[string]map[string]artifact.Progress

// ProgressStore tracks per-artifact transfer progress.
//
// Records carry the attempt id of the download that owns them. Terminal
// transitions and byte-count advances are rejected when the caller's attempt
// does not match the record, so a superseded worker can never clobber a
// finished task.
type ProgressStore struct {
	doc *Document[ProgressDoc]
}

// NewProgressStore opens the progress document under the given state root.
func NewProgressStore(paths Paths) *ProgressStore {
	lock := flock.New(paths.Lock("progress"))
	return &ProgressStore{
		doc: NewDocument(paths.Progress(), lock, func() ProgressDoc {
			return make(ProgressDoc)
		}),
	}
}

// MarkQueued records a task as waiting. Existing terminal records are
// overwritten: re-enqueueing a finished artifact starts its history over.
func (p *ProgressStore) MarkQueued(ctx context.Context, group, name string, totalSize int64, localPath string) error {
	return p.doc.Update(ctx, func(doc ProgressDoc) (ProgressDoc, error) {
		setRecord(doc, group, name, artifact.Progress{
			TotalSize:   totalSize,
			LocalPath:   localPath,
			Downloaded:  0,
			Status:      artifact.StatusQueued,
			LastUpdated: time.Now().UTC(),
		})
		return doc, nil
	})
}

// MarkDownloading transitions a record to downloading and stamps it with the
// owning attempt id. A record already in a terminal state is left untouched
// unless it is being restarted by a fresh attempt, which is exactly what a
// new non-empty attempt id signals.
func (p *ProgressStore) MarkDownloading(ctx context.Context, group, name, attempt string) error {
	return p.doc.Update(ctx, func(doc ProgressDoc) (ProgressDoc, error) {
		rec := getRecord(doc, group, name)
		rec.Status = artifact.StatusDownloading
		rec.Attempt = attempt
		rec.Reason = ""
		rec.Downloaded = 0
		rec.LastUpdated = time.Now().UTC()
		setRecord(doc, group, name, rec)
		return doc, nil
	})
}

// Advance updates the downloaded byte count for an in-flight record. Writes
// from a stale attempt, or against a record that has already reached a
// terminal state, are dropped silently.
func (p *ProgressStore) Advance(ctx context.Context, group, name, attempt string, downloaded int64) error {
	return p.doc.Update(ctx, func(doc ProgressDoc) (ProgressDoc, error) {
		rec, ok := lookupRecord(doc, group, name)
		if !ok || rec.Attempt != attempt || rec.Status.Terminal() {
			return doc, nil
		}
		rec.Downloaded = downloaded
		rec.LastUpdated = time.Now().UTC()
		setRecord(doc, group, name, rec)
		return doc, nil
	})
}

// MarkTerminal transitions a record to a terminal status. When attempt is
// non-empty it must match the record's owning attempt; a mismatch means a
// newer attempt took over and the write is dropped. An empty attempt forces
// the transition, which is how cancellation of queued (never started) tasks
// is recorded.
func (p *ProgressStore) MarkTerminal(ctx context.Context, group, name, attempt string, status artifact.Status, reason string) error {
	if !status.Terminal() {
		return artifact.NewConfigError("status %q is not terminal", status)
	}
	return p.doc.Update(ctx, func(doc ProgressDoc) (ProgressDoc, error) {
		rec, ok := lookupRecord(doc, group, name)
		if !ok {
			rec = artifact.Progress{}
		}
		if attempt != "" && rec.Attempt != attempt {
			return doc, nil
		}
		if rec.Status.Terminal() && attempt == "" {
			// Already settled; forced writes never flip one terminal
			// status into another.
			return doc, nil
		}
		rec.Status = status
		rec.Reason = reason
		if status == artifact.StatusCompleted {
			rec.Downloaded = rec.TotalSize
		}
		rec.LastUpdated = time.Now().UTC()
		setRecord(doc, group, name, rec)
		return doc, nil
	})
}

// Get returns the progress record for one artifact.
func (p *ProgressStore) Get(group, name string) (artifact.Progress, bool, error) {
	doc, err := p.doc.Load()
	if err != nil {
		return artifact.Progress{}, false, err
	}
	rec, ok := lookupRecord(doc, group, name)
	return rec, ok, nil
}

// GetByPath returns the first record whose local path matches.
func (p *ProgressStore) GetByPath(localPath string) (artifact.Progress, bool, error) {
	doc, err := p.doc.Load()
	if err != nil {
		return artifact.Progress{}, false, err
	}
	for _, names := range doc {
		for _, rec := range names {
			if rec.LocalPath == localPath {
				return rec, true, nil
			}
		}
	}
	return artifact.Progress{}, false, nil
}

// All returns a snapshot of every progress record.
func (p *ProgressStore) All() (ProgressDoc, error) {
	return p.doc.Load()
}

// Active returns the records that are queued or downloading.
func (p *ProgressStore) Active() (ProgressDoc, error) {
	doc, err := p.doc.Load()
	if err != nil {
		return nil, err
	}
	out := make(ProgressDoc)
	for group, names := range doc {
		for name, rec := range names {
			if !rec.Status.Terminal() {
				setRecord(out, group, name, rec)
			}
		}
	}
	return out, nil
}

func getRecord(doc ProgressDoc, group, name string) artifact.Progress {
	rec, _ := lookupRecord(doc, group, name)
	return rec
}

func lookupRecord(doc ProgressDoc, group, name string) (artifact.Progress, bool) {
	names, ok := doc[group]
	if !ok {
		return artifact.Progress{}, false
	}
	rec, ok := names[name]
	return rec, ok
}

func setRecord(doc ProgressDoc, group, name string, rec artifact.Progress) {
	names, ok := doc[group]
	if !ok {
		names = make(map[string]artifact.Progress)
		doc[group] = names
	}
	names[name] = rec
}
