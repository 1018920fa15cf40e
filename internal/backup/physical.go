package backup

import (
	"context"
	"io"
	"os"

	"mysql-backup-coordinator/internal/archive"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/toolchain"
)

// physicalProducer copies the running instance into a scratch directory,
// prepares it and tars the result. The scratch directory lives under the
// store root so the copy stays on the same filesystem as the artifact.
func (e *Executor) physicalProducer(copier toolchain.HotCopier, parallelism int) producer {
	return func(ctx context.Context, w io.Writer, a *Artifact) (int64, error) {
		scratch, err := os.MkdirTemp(e.store.Root(), ".physical-")
		if err != nil {
			return 0, errors.NewStorageError("failed to create scratch directory", err)
		}
		defer os.RemoveAll(scratch)

		// Backup returns after every copy worker has exited; prepare must
		// not start before that.
		if err := copier.Backup(ctx, e.deps.Conn, scratch, parallelism); err != nil {
			return 0, errors.WrapError(err, copier.Name()+" copy phase failed")
		}
		if err := copier.Prepare(ctx, scratch); err != nil {
			return 0, errors.WrapError(err, copier.Name()+" prepare phase failed")
		}

		n, err := archive.WriteDir(w, scratch)
		if err != nil {
			return n, err
		}
		if n == 0 {
			return 0, errors.NewEmptyArtifactError(scratch)
		}
		return n, nil
	}
}
