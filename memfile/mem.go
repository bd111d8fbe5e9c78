// Package memfile writes the memory-initialization artifacts consumed by the
// hardware build: the Bloom bit image (.mem) and the hash vector (.coe).
package memfile

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"github.com/cp024s/Filter-Coffee/filter"
)

// ImageName is the file name of the bit image inside the output directory.
const ImageName = "bloomfilter.mem"

var ErrOutputPath = errors.New("memfile: output path unavailable")

// Layout selects how slots are separated in the bit image.
type Layout int

const (
	// LayoutLines writes one "0 " or "1 " slot per line.
	LayoutLines Layout = iota
	// LayoutInline writes all slots as one run of "0 "/"1 " tokens.
	LayoutInline
)

func ParseLayout(s string) (Layout, error) {
	switch s {
	case "lines", "":
		return LayoutLines, nil
	case "inline":
		return LayoutInline, nil
	}
	return 0, errors.Errorf("memfile: unknown layout %q", s)
}

// WriteImage writes every slot of bits in ascending index order.
func WriteImage(w io.Writer, bits *filter.BitArray, layout Layout) error {
	bw := bufio.NewWriter(w)
	for i := uint32(0); i < bits.Size(); i++ {
		tok := "0 "
		if bits.Test(i) {
			tok = "1 "
		}
		bw.WriteString(tok)
		if layout == LayoutLines {
			bw.WriteByte('\n')
		}
	}
	return errors.Wrap(bw.Flush(), "write bit image")
}

// WriteImageFile writes the bit image to dir/name, creating dir if needed.
// The file is written under a temporary name and renamed into place, so a
// failed write leaves no partial artifact. It returns the final path and the
// xxh3 checksum of the written bytes.
func WriteImageFile(dir, name string, bits *filter.BitArray, layout Layout) (string, uint64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, errors.Wrapf(ErrOutputPath, "create %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)

	sum, err := writeAtomic(path, func(w io.Writer) error {
		return WriteImage(w, bits, layout)
	})
	if err != nil {
		return "", 0, err
	}
	return path, sum, nil
}

// WriteFileAtomic writes data to path the way the image writers do: through
// a temporary file renamed into place. The directory of path is created if
// needed. It returns the xxh3 checksum of data.
func WriteFileAtomic(path string, data []byte) (uint64, error) {
	if err := mkdirFor(path); err != nil {
		return 0, err
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return errors.Wrapf(err, "write %s", path)
	})
}

func mkdirFor(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(ErrOutputPath, "create %s: %v", dir, err)
	}
	return nil
}

func writeAtomic(path string, write func(io.Writer) error) (uint64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, errors.Wrapf(ErrOutputPath, "create %s: %v", path, err)
	}
	defer os.Remove(tmp.Name())

	h := xxh3.New()
	if err := write(io.MultiWriter(tmp, h)); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrapf(ErrOutputPath, "close %s: %v", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, errors.Wrapf(ErrOutputPath, "chmod %s: %v", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, errors.Wrapf(ErrOutputPath, "rename to %s: %v", path, err)
	}
	return h.Sum64(), nil
}

// Checksum returns the xxh3 digest the writers report for data.
func Checksum(data []byte) uint64 {
	return xxh3.Hash(data)
}
