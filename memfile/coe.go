package memfile

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

const (
	coeRadix  = "memory_initialization_radix=32;\n"
	coeVector = "memory_initialization_vector=\n"
)

// WriteCOE writes digests as a memory-initialization vector: one zero-padded
// lowercase 8-digit hex word per entry, separated by ",\n", closed by ";".
func WriteCOE(w io.Writer, digests []uint32) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(coeRadix)
	bw.WriteString(coeVector)
	for i, d := range digests {
		sep := ",\n"
		if i == len(digests)-1 {
			sep = "\n"
		}
		fmt.Fprintf(bw, "%08x%s", d, sep)
	}
	bw.WriteString(";\n")
	return errors.Wrap(bw.Flush(), "write coe")
}

// WriteCOEFile writes the vector to path, creating its directory if needed,
// and returns the xxh3 checksum of the written bytes.
func WriteCOEFile(path string, digests []uint32) (uint64, error) {
	if err := mkdirFor(path); err != nil {
		return 0, err
	}
	return writeAtomic(path, func(w io.Writer) error {
		return WriteCOE(w, digests)
	})
}
