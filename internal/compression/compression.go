// Package compression provides the streaming codecs backup artifacts are
// written and read through.
package compression

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"mysql-backup-coordinator/internal/errors"
)

// Kind names a compression format
type Kind string

const (
	KindNone Kind = "none"
	KindGzip Kind = "gzip"
	KindXz   Kind = "xz"
	KindZstd Kind = "zstd"
	KindLZ4  Kind = "lz4"
)

var extensions = map[Kind]string{
	KindNone: "",
	KindGzip: ".gz",
	KindXz:   ".xz",
	KindZstd: ".zst",
	KindLZ4:  ".lz4",
}

// ParseKind converts a configuration value into a Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindGzip, nil
	case KindNone, KindGzip, KindXz, KindZstd, KindLZ4:
		return k, nil
	case "gz":
		return KindGzip, nil
	case "zst":
		return KindZstd, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unsupported compression %q (none, gzip, xz, zstd, lz4)", s), nil)
	}
}

// Extension returns the file suffix for the kind, empty for KindNone
func (k Kind) Extension() string {
	return extensions[k]
}

// KindFromPath infers the kind from a file suffix. Unknown suffixes are KindNone.
func KindFromPath(path string) Kind {
	for k, ext := range extensions {
		if ext != "" && strings.HasSuffix(path, ext) {
			return k
		}
	}
	return KindNone
}

// Codec wraps writers and readers with one compression format
type Codec interface {
	Kind() Kind
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Registry maps kinds to codecs
type Registry struct {
	mu     sync.RWMutex
	codecs map[Kind]Codec
}

// NewRegistry returns a registry with every built-in codec registered
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[Kind]Codec)}
	r.Register(noneCodec{})
	r.Register(GzipCodec{Level: gzip.DefaultCompression})
	r.Register(XzCodec{})
	r.Register(ZstdCodec{Level: zstd.SpeedDefault})
	r.Register(LZ4Codec{})
	return r
}

// Register adds or replaces the codec for its kind
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Kind()] = c
}

// Get returns the codec for kind
func (r *Registry) Get(kind Kind) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.codecs[kind]
	if !ok {
		return nil, errors.NewToolUnavailableError(fmt.Sprintf("%s codec", kind), nil)
	}
	return c, nil
}

// Supported returns the registered kinds in sorted order
func (r *Registry) Supported() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.codecs))
	for k := range r.codecs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

type noneCodec struct{}

func (noneCodec) Kind() Kind { return KindNone }

func (noneCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// GzipCodec implements gzip
type GzipCodec struct {
	Level int
}

func (GzipCodec) Kind() Kind { return KindGzip }

func (c GzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	gw, err := gzip.NewWriterLevel(w, c.Level)
	if err != nil {
		return nil, errors.NewValidationError("failed to create gzip writer", err)
	}
	return gw, nil
}

func (GzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.NewStorageError("failed to open gzip stream", err)
	}
	return gr, nil
}

// XzCodec implements xz
type XzCodec struct{}

func (XzCodec) Kind() Kind { return KindXz }

func (XzCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return nil, errors.NewValidationError("failed to create xz writer", err)
	}
	return xw, nil
}

func (XzCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, errors.NewStorageError("failed to open xz stream", err)
	}
	return io.NopCloser(xr), nil
}

// ZstdCodec implements zstd
type ZstdCodec struct {
	Level zstd.EncoderLevel
}

func (ZstdCodec) Kind() Kind { return KindZstd }

func (c ZstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(c.Level))
	if err != nil {
		return nil, errors.NewValidationError("failed to create zstd writer", err)
	}
	return zw, nil
}

func (ZstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.NewStorageError("failed to open zstd stream", err)
	}
	return zr.IOReadCloser(), nil
}

// LZ4Codec implements lz4 frames
type LZ4Codec struct{}

func (LZ4Codec) Kind() Kind { return KindLZ4 }

func (LZ4Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (LZ4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// CountingWriter counts the bytes written through it
type CountingWriter struct {
	W io.Writer
	N int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += int64(n)
	return n, err
}

// Ratio returns compressed/original, 1.0 when original is empty
func Ratio(original, compressed int64) float64 {
	if original == 0 {
		return 1.0
	}
	return float64(compressed) / float64(original)
}
