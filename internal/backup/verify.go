package backup

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/errors"
)

const (
	checksumPrefix = "blake2b-256:"
	headBytes      = 64 * 1024
)

// Verification is the result of checking an artifact file
type Verification struct {
	SizeBytes int64
	Checksum  string
}

// Verifier checks that an artifact is non-empty and decodable
type Verifier struct {
	codecs *compression.Registry
}

// NewVerifier creates a verifier using codecs
func NewVerifier(codecs *compression.Registry) *Verifier {
	return &Verifier{codecs: codecs}
}

// Verify checks size and readability of path and computes its checksum.
// With deep set the whole stream is decoded, otherwise only its head.
func (v *Verifier) Verify(path string, kind compression.Kind, deep bool) (*Verification, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("cannot stat %s", path), err)
	}
	if info.Size() == 0 {
		return nil, errors.NewEmptyArtifactError(path)
	}

	codec, err := v.codecs.Get(kind)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	r, err := codec.NewReader(f)
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("%s is not a readable %s stream", path, kind), err)
	}
	var decoded int64
	if deep {
		decoded, err = io.Copy(io.Discard, r)
	} else {
		decoded, err = io.CopyN(io.Discard, r, headBytes)
		if err == io.EOF {
			err = nil
		}
	}
	r.Close()
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("%s is not a readable %s stream", path, kind), err)
	}
	if decoded == 0 {
		return nil, errors.NewEmptyArtifactError(path)
	}

	sum, err := Checksum(path)
	if err != nil {
		return nil, err
	}
	return &Verification{SizeBytes: info.Size(), Checksum: sum}, nil
}

// Checksum returns the BLAKE2b-256 digest of the file at path
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.NewStorageError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.NewStorageError(fmt.Sprintf("cannot read %s", path), err)
	}
	return checksumPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyCommitted re-checks a committed artifact against its sidecar: size,
// full decodability and, when recorded, the checksum.
func (v *Verifier) VerifyCommitted(path string) (*Artifact, error) {
	kind := compression.KindFromPath(path)
	meta, metaErr := ReadMeta(path)
	if metaErr == nil && meta.Compression != "" {
		kind = meta.Compression
	}

	res, err := v.Verify(path, kind, true)
	if err != nil {
		return meta, err
	}
	if meta == nil {
		return nil, nil
	}
	if meta.SizeBytes != 0 && meta.SizeBytes != res.SizeBytes {
		return meta, errors.NewValidationError(
			fmt.Sprintf("%s is %d bytes, metadata records %d", path, res.SizeBytes, meta.SizeBytes), nil)
	}
	if meta.Checksum != "" && meta.Checksum != res.Checksum {
		return meta, errors.NewValidationError(fmt.Sprintf("checksum mismatch for %s", path), nil)
	}
	return meta, nil
}
