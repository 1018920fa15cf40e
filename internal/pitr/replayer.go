// Package pitr replays captured binary logs up to a point in time.
package pitr

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"mysql-backup-coordinator/internal/archive"
	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
	"mysql-backup-coordinator/internal/toolchain"
)

// Result lists what a replay did with each captured log
type Result struct {
	StopAt  time.Time `json:"stop_at"`
	Bound   time.Time `json:"bound"`
	Applied []string  `json:"applied"`
	Skipped []string  `json:"skipped,omitempty"`
}

// Replayer applies binlog artifacts through a decoder and a loader
type Replayer struct {
	decoder toolchain.BinlogDecoder
	loader  toolchain.Loader
	conn    database.ConnectionConfig
	codecs  *compression.Registry
	logger  *logging.Logger
	tempDir string
}

// NewReplayer creates a replayer. Extraction happens under tempDir, or the
// system temp directory when it is empty.
func NewReplayer(decoder toolchain.BinlogDecoder, loader toolchain.Loader, conn database.ConnectionConfig, codecs *compression.Registry, logger *logging.Logger, tempDir string) *Replayer {
	if codecs == nil {
		codecs = compression.NewRegistry()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Replayer{
		decoder: decoder,
		loader:  loader,
		conn:    conn,
		codecs:  codecs,
		logger:  logger,
		tempDir: tempDir,
	}
}

// ExclusiveBound returns the --stop-datetime value that applies every event
// up to and including the second of stopAt and nothing after it.
func ExclusiveBound(stopAt time.Time) time.Time {
	return stopAt.Truncate(time.Second).Add(time.Second)
}

// Replay applies the logs in artifactPath up to stopAt and returns the
// number of files applied. Replaying the same artifact twice applies its
// events twice.
func (r *Replayer) Replay(ctx context.Context, artifactPath string, stopAt time.Time) (int, error) {
	res, err := r.Run(ctx, artifactPath, stopAt)
	if res == nil {
		return 0, err
	}
	return len(res.Applied), err
}

// Run is Replay with the per-file detail
func (r *Replayer) Run(ctx context.Context, artifactPath string, stopAt time.Time) (*Result, error) {
	if stopAt.IsZero() {
		return nil, errors.NewMissingStopTimestampError()
	}

	dir, err := os.MkdirTemp(r.tempDir, "pitr-")
	if err != nil {
		return nil, errors.NewStorageError("failed to create extraction directory", err)
	}
	defer os.RemoveAll(dir)

	if err := r.extract(artifactPath, dir); err != nil {
		return nil, err
	}
	manifest, err := backup.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	for i := range manifest.Files {
		if manifest.Files[i].Sequence == 0 {
			manifest.Files[i].Sequence, _ = backup.BinlogSequence(manifest.Files[i].Name)
		}
	}
	backup.SortBinlogFiles(manifest.Files)

	res := &Result{StopAt: stopAt, Bound: ExclusiveBound(stopAt), Applied: []string{}}
	for i, f := range manifest.Files {
		path := filepath.Join(dir, f.Name)

		first, ok, err := r.decoder.FirstEventTime(ctx, path)
		if err != nil {
			return res, errors.WrapError(err, fmt.Sprintf("failed to read %s", f.Name))
		}
		if !ok {
			res.Skipped = append(res.Skipped, f.Name)
			continue
		}
		// Logs are in sequence order, so once one starts at or after the
		// bound every later one does too.
		if !first.Before(res.Bound) {
			for _, rest := range manifest.Files[i:] {
				res.Skipped = append(res.Skipped, rest.Name)
			}
			break
		}

		if err := r.apply(ctx, path, res.Bound); err != nil {
			return res, err
		}
		res.Applied = append(res.Applied, f.Name)
		r.logger.WithFields(map[string]interface{}{
			"operation": "pitr",
			"file":      f.Name,
			"stop_at":   res.Bound.Format(time.RFC3339),
		}).Info("Binary log applied")
	}

	return res, nil
}

func (r *Replayer) extract(artifactPath, dir string) error {
	kind := compression.KindFromPath(artifactPath)
	if meta, err := backup.ReadMeta(artifactPath); err == nil && meta.Compression != "" {
		kind = meta.Compression
	}
	codec, err := r.codecs.Get(kind)
	if err != nil {
		return err
	}

	f, err := os.Open(artifactPath)
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("cannot open %s", artifactPath), err)
	}
	defer f.Close()

	zr, err := codec.NewReader(f)
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("%s is not a readable %s stream", artifactPath, kind), err)
	}
	defer zr.Close()
	return archive.Extract(zr, dir)
}

// apply pipes the decoder's output for one file straight into the loader
func (r *Replayer) apply(ctx context.Context, path string, bound time.Time) error {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.decoder.Decode(gctx, path, bound, pw)
		pw.CloseWithError(err)
		if err != nil {
			return errors.WrapError(err, fmt.Sprintf("failed to decode %s", filepath.Base(path)))
		}
		return nil
	})
	g.Go(func() error {
		err := r.loader.Load(gctx, toolchain.LoadOptions{Conn: r.conn}, pr)
		pr.CloseWithError(err)
		if err != nil {
			return errors.WrapError(err, fmt.Sprintf("failed to apply %s", filepath.Base(path)))
		}
		return nil
	})
	return g.Wait()
}
