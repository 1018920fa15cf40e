package backup

import (
	"context"
	"io"

	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/toolchain"
)

// dumpLogical runs mysqldump for the artifact's scope
func (e *Executor) dumpLogical(ctx context.Context, w io.Writer, a *Artifact) (int64, error) {
	cw := &compression.CountingWriter{W: w}
	opts := toolchain.DumpOptions{Conn: e.deps.Conn, Database: a.Scope.Database}

	if err := e.deps.Dumper.Dump(ctx, opts, cw); err != nil {
		return cw.N, errors.WrapError(err, "logical dump failed")
	}
	if cw.N == 0 {
		return 0, errors.NewEmptyArtifactError(ArtifactName(a.Strategy, a.Scope, a.Compression, a.CreatedAt))
	}
	return cw.N, nil
}
