package restore

import (
	"path/filepath"
	"regexp"
	"strings"

	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/errors"
)

var nameTokens = regexp.MustCompile(`[^A-Za-z0-9]+`)

var markers = map[string]backup.Strategy{
	"logical":    backup.StrategyLogical,
	"dump":       backup.StrategyLogical,
	"sql":        backup.StrategyLogical,
	"physical":   backup.StrategyPhysical,
	"xtrabackup": backup.StrategyPhysical,
	"binlog":     backup.StrategyBinlog,
}

// DetectType decides the strategy of an artifact. A non-empty override
// wins, then the "<strategy>_" prefix written by the backup executor, then
// the marker tokens of the file name when they all agree, then the
// strategy recorded in the metadata sidecar. Conflicting markers without a
// sidecar are ambiguous.
func DetectType(path, override string) (backup.Strategy, error) {
	if strings.TrimSpace(override) != "" {
		return backup.ParseStrategy(override)
	}

	base := strings.ToLower(filepath.Base(path))
	for _, s := range []backup.Strategy{backup.StrategyLogical, backup.StrategyPhysical, backup.StrategyBinlog} {
		if strings.HasPrefix(base, string(s)+"_") {
			return s, nil
		}
	}

	found := make(map[backup.Strategy]bool)
	var strategy backup.Strategy
	for _, token := range nameTokens.Split(base, -1) {
		if s, ok := markers[token]; ok {
			found[s] = true
			strategy = s
		}
	}
	if len(found) == 1 {
		return strategy, nil
	}

	if meta, err := backup.ReadMeta(path); err == nil && meta.Strategy != "" {
		if s, err := backup.ParseStrategy(string(meta.Strategy)); err == nil {
			return s, nil
		}
	}

	return "", errors.NewUnknownBackupTypeError(path)
}
