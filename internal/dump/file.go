package dump

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// maxFileSize caps how much dump text is read from one file. A full device
// memory is well under 1MB of bytes, about 4MB as text.
const maxFileSize = 64 * 1024 * 1024

// decompressors maps a file suffix to a reader that undoes it.
var decompressors = map[string]func(r io.Reader) (io.ReadCloser, error){
	".gz": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	".zst": func(r io.Reader) (io.ReadCloser, error) {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	},
}

// ReadFile loads a device log from path. Text dumps (.dmp, .txt, anything
// without a known suffix) are parsed; files ending in .bin hold raw bytes.
// Either may additionally end in .gz or .zst.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := strings.ToLower(path)
	var r io.Reader = f
	for suffix, open := range decompressors {
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		dr, err := open(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s stream: %w", suffix, err)
		}
		defer dr.Close()
		r = dr
		name = strings.TrimSuffix(name, suffix)
		break
	}
	r = &limitedReader{r: r, n: maxFileSize}

	if filepath.Ext(name) == ".bin" {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return data, nil
	}

	data, err := Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return data, nil
}

var errTooLarge = errors.New("dump file too large")

// limitedReader is io.LimitReader that fails instead of truncating.
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return 0, fmt.Errorf("%w (max %d bytes)", errTooLarge, maxFileSize)
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}
