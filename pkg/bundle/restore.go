package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/stackdrop/shuttle/internal/logger"
	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/objstore"
)

// Restore downloads the bundle for (artifactID, subID) and reassembles it
// at destDir.
//
// Chunks are staged next to the destination and each one is verified
// against its manifest checksum before use; a chunk that verified on a
// previous, failed attempt is reused instead of re-downloaded. The
// destination tree only appears after the whole-source checksum matches.
func (t *Transferer) Restore(ctx context.Context, destDir, artifactID, subID string) error {
	if artifactID == "" {
		return artifact.NewConfigError("artifact id is required")
	}

	manifest, ns, err := t.findManifest(ctx, artifactID, subID)
	if err != nil {
		return err
	}

	staging := destDir + ".staging"
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	if err := t.fetchChunks(ctx, ns, manifest, staging); err != nil {
		return err
	}

	// Reassemble the tar stream from verified chunks, hashing the raw
	// bytes for the final acceptance gate.
	spool, err := os.CreateTemp("", "shuttle-restore-*")
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	srcHash := sha256.New()
	out := io.MultiWriter(spool, srcHash)
	for _, chunk := range manifest.Chunks {
		stored, err := os.ReadFile(filepath.Join(staging, chunk.Name))
		if err != nil {
			return fmt.Errorf("read staged chunk %s: %w", chunk.Name, err)
		}
		raw := stored
		if chunk.Compressed {
			raw, err = decompress(stored)
			if err != nil {
				return artifact.NewTransferError(err, "decompress chunk %s", chunk.Name)
			}
		}
		if int64(len(raw)) != chunk.RawSize {
			t.opts.Metrics.RecordChecksumFailure()
			return artifact.NewChecksumMismatchError(
				"chunk %s raw size %d does not match manifest %d",
				chunk.Name, len(raw), chunk.RawSize)
		}
		if _, err := out.Write(raw); err != nil {
			return fmt.Errorf("spool chunk %s: %w", chunk.Name, err)
		}
	}

	if got := hex.EncodeToString(srcHash.Sum(nil)); got != manifest.SourceChecksum {
		t.opts.Metrics.RecordChecksumFailure()
		return artifact.NewChecksumMismatchError(
			"source checksum mismatch for %s: got %s want %s",
			artifactID, got, manifest.SourceChecksum)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if err := untar(spool, destDir); err != nil {
		return artifact.NewTransferError(err, "extract bundle %s", artifactID)
	}

	// Success: the staged chunks are no longer needed.
	if err := os.RemoveAll(staging); err != nil {
		logger.Warn("failed to remove staging dir", "path", staging, "error", err)
	}

	logger.Info("bundle restored",
		"artifact", artifactID, "sub", subID, "dest", destDir,
		"chunks", len(manifest.Chunks))
	return nil
}

// findManifest locates the bundle manifest, preferring the namespaced
// layout and falling back to the legacy non-namespaced one.
func (t *Transferer) findManifest(ctx context.Context, artifactID, subID string) (*Manifest, string, error) {
	ns := namespace(t.opts.Prefix, artifactID, subID)
	m, err := fetchManifest(ctx, t.store, ns)
	if err == nil {
		return m, ns, nil
	}
	if !errors.Is(err, objstore.ErrObjectNotFound) {
		return nil, "", err
	}

	legacy := legacyNamespace(t.opts.Prefix, artifactID)
	if legacy != ns {
		m, lerr := fetchManifest(ctx, t.store, legacy)
		if lerr == nil {
			logger.Info("bundle found in legacy layout",
				"artifact", artifactID, "namespace", legacy)
			return m, legacy, nil
		}
		if !errors.Is(lerr, objstore.ErrObjectNotFound) {
			return nil, "", lerr
		}
	}

	return nil, "", artifact.NewTransferError(objstore.ErrObjectNotFound,
		"no bundle manifest for %s/%s", artifactID, subID)
}

// fetchChunks downloads every manifest chunk into staging with bounded
// parallelism, verifying checksums. Already-verified staged chunks are kept.
func (t *Transferer) fetchChunks(ctx context.Context, ns string, manifest *Manifest, staging string) error {
	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, t.opts.Parallelism)
		errsMu   sync.Mutex
		firstErr error
	)

	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	setErr := func(err error) {
		errsMu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		errsMu.Unlock()
	}

	for _, chunk := range manifest.Chunks {
		chunk := chunk
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			path := filepath.Join(staging, chunk.Name)

			// Reuse a chunk staged by a previous attempt if it still
			// verifies.
			if data, err := os.ReadFile(path); err == nil {
				if sha256Hex(data) == chunk.Checksum {
					logger.Debug("reusing staged chunk", "chunk", chunk.Name)
					return
				}
				_ = os.Remove(path)
			}

			if _, err := t.store.GetToFile(dlCtx, ns+"/"+chunk.Name, path, nil); err != nil {
				setErr(artifact.NewTransferError(err, "download chunk %s", chunk.Name))
				return
			}

			data, err := os.ReadFile(path)
			if err != nil {
				setErr(fmt.Errorf("read downloaded chunk %s: %w", chunk.Name, err))
				return
			}
			if got := sha256Hex(data); got != chunk.Checksum {
				t.opts.Metrics.RecordChecksumFailure()
				_ = os.Remove(path)
				setErr(artifact.NewChecksumMismatchError(
					"chunk %s checksum mismatch: got %s want %s",
					chunk.Name, got, chunk.Checksum))
				return
			}

			t.opts.Metrics.RecordChunk("download")
			t.opts.Metrics.RecordBytes("download", chunk.Size)
		}()
	}

	wg.Wait()
	return firstErr
}
