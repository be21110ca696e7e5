package bundle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/stackdrop/shuttle/internal/logger"
	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/bufpool"
	"github.com/stackdrop/shuttle/pkg/metrics"
	"github.com/stackdrop/shuttle/pkg/objstore"
)

// Options configures a Transferer.
type Options struct {
	// Prefix is the remote namespace root for all bundles.
	Prefix string

	// ChunkSize bounds the raw bytes per chunk.
	ChunkSize int64

	// MinCompressSize is the raw-size threshold below which a chunk is
	// stored uncompressed.
	MinCompressSize int64

	// DisableCompression stores every chunk raw. The chunk, manifest and
	// checksum discipline is unchanged.
	DisableCompression bool

	// Parallelism bounds concurrent chunk uploads/downloads. Values below
	// one mean serial transfer.
	Parallelism int

	// Metrics is optional.
	Metrics *metrics.SyncMetrics
}

// Transferer packs directories into chunked remote bundles and restores
// them.
type Transferer struct {
	store   objstore.Client
	opts    Options
	buffers *bufpool.Pool
}

// NewTransferer creates a Transferer over the given storage client.
func NewTransferer(store objstore.Client, opts Options) *Transferer {
	if opts.Prefix == "" {
		opts.Prefix = "bundles"
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 64 << 20
	}
	if opts.MinCompressSize <= 0 {
		opts.MinCompressSize = 4 << 10
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Transferer{
		store:   store,
		opts:    opts,
		buffers: bufpool.New(int(opts.ChunkSize)),
	}
}

// Pack packages srcDir and uploads it under the (artifactID, subID)
// namespace, replacing any bundle already there. Returns the manifest that
// was written.
func (t *Transferer) Pack(ctx context.Context, srcDir, artifactID, subID string) (*Manifest, error) {
	if artifactID == "" {
		return nil, artifact.NewConfigError("artifact id is required")
	}
	if strings.Contains(artifactID, "/") || strings.Contains(subID, "/") {
		return nil, artifact.NewConfigError("artifact and sub ids must not contain '/'")
	}
	if fi, err := os.Stat(srcDir); err != nil || !fi.IsDir() {
		return nil, artifact.NewConfigError("source %s is not a directory", srcDir)
	}

	ns := namespace(t.opts.Prefix, artifactID, subID)

	// Spool the tar stream to a temp file while hashing it, so the whole
	// source checksum covers exactly what the chunks carry.
	spool, err := os.CreateTemp("", "shuttle-pack-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	srcHash := sha256.New()
	if err := tarDir(srcDir, io.MultiWriter(spool, srcHash)); err != nil {
		return nil, artifact.NewTransferError(err, "package %s", srcDir)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind spool: %w", err)
	}

	manifest := &Manifest{
		Version:        FormatVersion,
		ArtifactID:     artifactID,
		SubID:          subID,
		ChunkSize:      t.opts.ChunkSize,
		SourceChecksum: hex.EncodeToString(srcHash.Sum(nil)),
		CreatedAt:      time.Now().UTC(),
	}

	// Cut, compress and upload chunks with bounded parallelism.
	type result struct {
		index int
		chunk Chunk
		err   error
	}

	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, t.opts.Parallelism)
		results = make(chan result)
	)

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	index := 0
	go func() {
		buf := make([]byte, t.opts.ChunkSize)
		for {
			n, rerr := io.ReadFull(spool, buf)
			if n > 0 {
				raw := t.buffers.Get(n)
				copy(raw, buf[:n])
				i := index
				index++
				wg.Add(1)
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					c, uerr := t.uploadChunk(uploadCtx, ns, i, raw)
					t.buffers.Put(raw)
					results <- result{index: i, chunk: c, err: uerr}
				}()
			}
			if rerr != nil {
				break
			}
		}
		wg.Wait()
		close(results)
	}()

	chunks := make(map[int]Chunk)
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		chunks[res.index] = res.chunk
	}
	if firstErr != nil {
		return nil, firstErr
	}

	manifest.Chunks = make([]Chunk, len(chunks))
	for i := range manifest.Chunks {
		manifest.Chunks[i] = chunks[i]
	}

	if err := t.writeManifest(ctx, ns, manifest); err != nil {
		return nil, err
	}

	logger.Info("bundle packed",
		"artifact", artifactID, "sub", subID,
		"chunks", len(manifest.Chunks), "checksum", manifest.SourceChecksum)
	return manifest, nil
}

// uploadChunk compresses (when worthwhile), checksums and uploads one chunk.
func (t *Transferer) uploadChunk(ctx context.Context, ns string, index int, raw []byte) (Chunk, error) {
	chunk := Chunk{
		Name:    chunkName(index),
		RawSize: int64(len(raw)),
	}

	stored := raw
	if !t.opts.DisableCompression && int64(len(raw)) >= t.opts.MinCompressSize {
		compressed, err := compress(raw)
		if err != nil {
			return chunk, artifact.NewTransferError(err, "compress chunk %s", chunk.Name)
		}
		stored = compressed
		chunk.Compressed = true
	}

	chunk.Size = int64(len(stored))
	chunk.Checksum = sha256Hex(stored)

	if err := t.store.Put(ctx, ns+"/"+chunk.Name, bytes.NewReader(stored)); err != nil {
		return chunk, artifact.NewTransferError(err, "upload chunk %s", chunk.Name)
	}

	t.opts.Metrics.RecordChunk("upload")
	t.opts.Metrics.RecordBytes("upload", chunk.Size)
	return chunk, nil
}

// writeManifest uploads the manifest, its checksum, and the whole-source
// checksum under ns.
func (t *Transferer) writeManifest(ctx context.Context, ns string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := t.store.Put(ctx, ns+"/"+manifestName, bytes.NewReader(data)); err != nil {
		return artifact.NewTransferError(err, "upload manifest")
	}
	if err := t.store.Put(ctx, ns+"/"+manifestSumName, strings.NewReader(sha256Hex(data)+"\n")); err != nil {
		return artifact.NewTransferError(err, "upload manifest checksum")
	}
	if err := t.store.Put(ctx, ns+"/"+sourceSumName, strings.NewReader(m.SourceChecksum+"\n")); err != nil {
		return artifact.NewTransferError(err, "upload source checksum")
	}
	return nil
}

// Clean removes every remote object under the (artifactID, subID) namespace.
func (t *Transferer) Clean(ctx context.Context, artifactID, subID string) error {
	if artifactID == "" {
		return artifact.NewConfigError("artifact id is required")
	}
	ns := namespace(t.opts.Prefix, artifactID, subID)
	if err := t.store.DeleteByPrefix(ctx, ns+"/"); err != nil {
		return artifact.NewTransferError(err, "clean bundle %s", ns)
	}
	return nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(stored []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
