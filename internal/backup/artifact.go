package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/errors"
)

// Strategy selects how a backup is taken
type Strategy string

const (
	StrategyLogical  Strategy = "logical"
	StrategyPhysical Strategy = "physical"
	StrategyBinlog   Strategy = "binlog"
)

// ParseStrategy converts a configuration value into a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyLogical, StrategyPhysical, StrategyBinlog:
		return st, nil
	case "":
		return StrategyLogical, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unknown backup strategy %q (logical, physical, binlog)", s), nil)
	}
}

// Extension is the payload extension before compression
func (s Strategy) Extension() string {
	if s == StrategyLogical {
		return ".sql"
	}
	return ".tar"
}

// Scope limits a backup or restore to one database; empty means all
type Scope struct {
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
}

// All reports whether the scope covers every database
func (s Scope) All() bool {
	return s.Database == ""
}

var labelUnsafe = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// Label is the scope's file-name component
func (s Scope) Label() string {
	if s.All() {
		return "all"
	}
	return labelUnsafe.ReplaceAllString(s.Database, "-")
}

func (s Scope) String() string {
	if s.All() {
		return "all databases"
	}
	return s.Database
}

// Artifact describes a committed backup. It is written once, next to the
// payload, as <artifact>.meta.json and never modified afterwards.
type Artifact struct {
	ID                string                   `json:"id"`
	Strategy          Strategy                 `json:"strategy"`
	RequestedStrategy Strategy                 `json:"requested_strategy,omitempty"`
	Downgraded        bool                     `json:"downgraded,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	Scope             Scope                    `json:"scope"`
	Compression       compression.Kind         `json:"compression"`
	SizeBytes         int64                    `json:"size_bytes"`
	UncompressedBytes int64                    `json:"uncompressed_bytes"`
	StoragePath       string                   `json:"storage_path"`
	Checksum          string                   `json:"checksum"`
	Tool              string                   `json:"tool,omitempty"`
	Binlog            *database.BinlogPosition `json:"binlog_position,omitempty"`
	BinlogFiles       int                      `json:"binlog_files,omitempty"`
}

const (
	// MetaSuffix is appended to an artifact path for its metadata sidecar
	MetaSuffix = ".meta.json"
	// PartialSuffix marks an artifact that is still being written
	PartialSuffix = ".partial"

	nameTimeLayout = "20060102_150405"
)

// ArtifactName builds <strategy>_<scope>_<YYYYMMDD_HHMMSS>.<ext><compression>.
// Timestamps are UTC.
func ArtifactName(strategy Strategy, scope Scope, kind compression.Kind, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s%s", strategy, scope.Label(), at.UTC().Format(nameTimeLayout), strategy.Extension(), kind.Extension())
}

var nameTimestamp = regexp.MustCompile(`(\d{8})_(\d{6})`)

// ParseNameTimestamp extracts the UTC timestamp embedded in an artifact name
func ParseNameTimestamp(name string) (time.Time, bool) {
	m := nameTimestamp.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(nameTimeLayout, m[1]+"_"+m[2], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ReadMeta loads the metadata sidecar of artifactPath
func ReadMeta(artifactPath string) (*Artifact, error) {
	data, err := os.ReadFile(artifactPath + MetaSuffix)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("corrupt metadata for %s", artifactPath), err)
	}
	return &a, nil
}

// writeMeta writes the sidecar through a temporary name
func writeMeta(a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return errors.NewStorageError("failed to encode artifact metadata", err)
	}
	tmp := a.StoragePath + MetaSuffix + PartialSuffix
	if err := os.WriteFile(tmp, append(data, '\n'), 0o640); err != nil {
		return errors.NewStorageError("failed to write artifact metadata", err)
	}
	if err := os.Rename(tmp, a.StoragePath+MetaSuffix); err != nil {
		os.Remove(tmp)
		return errors.NewStorageError("failed to commit artifact metadata", err)
	}
	return nil
}
