package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"mysql-backup-coordinator/internal/archive"
	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/errors"
)

// ManifestName is the manifest file inside a binlog artifact
const ManifestName = "manifest.json"

// BinlogFile is one binary log captured in a binlog artifact
type BinlogFile struct {
	Name      string `json:"name"`
	Sequence  int64  `json:"sequence"`
	SizeBytes int64  `json:"size_bytes"`
}

// BinlogManifest lists the logs of a binlog artifact in sequence order
type BinlogManifest struct {
	CapturedAt time.Time                `json:"captured_at"`
	Position   *database.BinlogPosition `json:"position,omitempty"`
	Files      []BinlogFile             `json:"files"`
}

var sequencePattern = regexp.MustCompile(`\.(\d+)$`)

// BinlogSequence returns the numeric suffix of a binary log name
// (mysql-bin.000012 is 12). ok is false when the name has none.
func BinlogSequence(name string) (int64, bool) {
	m := sequencePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortBinlogFiles orders files by sequence, then by name
func SortBinlogFiles(files []BinlogFile) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Sequence != files[j].Sequence {
			return files[i].Sequence < files[j].Sequence
		}
		return files[i].Name < files[j].Name
	})
}

// ReadManifest loads the manifest from an extracted binlog artifact
func ReadManifest(dir string) (*BinlogManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, errors.NewValidationError("binlog artifact has no manifest", err)
	}
	var m BinlogManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewValidationError("binlog manifest is corrupt", err)
	}
	SortBinlogFiles(m.Files)
	return &m, nil
}

// binlogProducer rotates the binary log, copies every closed and current
// log out of BinlogDir with at most parallelism concurrent copies, and tars
// them together with a manifest.
func (e *Executor) binlogProducer(parallelism int) producer {
	return func(ctx context.Context, w io.Writer, a *Artifact) (int64, error) {
		db, err := e.deps.OpenDB(ctx)
		if err != nil {
			return 0, err
		}
		defer db.Close()

		if err := database.FlushBinaryLogs(ctx, db); err != nil {
			return 0, err
		}
		position, err := database.ReadBinlogPosition(ctx, db)
		if err != nil {
			return 0, err
		}
		logs, err := database.ListBinaryLogs(ctx, db)
		if err != nil {
			return 0, err
		}

		scratch, err := os.MkdirTemp(e.store.Root(), ".binlog-")
		if err != nil {
			return 0, errors.NewStorageError("failed to create scratch directory", err)
		}
		defer os.RemoveAll(scratch)

		files := make([]BinlogFile, len(logs))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)
		for i, l := range logs {
			i, l := i, l
			seq, _ := BinlogSequence(l.Name)
			g.Go(func() error {
				n, err := copyFile(gctx, filepath.Join(e.deps.BinlogDir, l.Name), filepath.Join(scratch, l.Name))
				if err != nil {
					return err
				}
				files[i] = BinlogFile{Name: l.Name, Sequence: seq, SizeBytes: n}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
		SortBinlogFiles(files)

		manifest := BinlogManifest{CapturedAt: e.now().UTC(), Position: position, Files: files}
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return 0, errors.NewStorageError("failed to encode binlog manifest", err)
		}
		if err := os.WriteFile(filepath.Join(scratch, ManifestName), append(data, '\n'), 0o640); err != nil {
			return 0, errors.NewStorageError("failed to write binlog manifest", err)
		}

		a.Binlog = position
		a.BinlogFiles = len(files)
		e.deps.Logger.WithField("files", len(files)).Info("Binary logs captured")

		return archive.WriteDir(w, scratch)
	}
}

func copyFile(ctx context.Context, src, dst string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("cannot read binary log %s", src), err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("cannot create %s", dst), err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.NewStorageError(fmt.Sprintf("failed to copy %s", src), err)
	}
	return n, nil
}
