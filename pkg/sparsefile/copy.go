// Whole-file content copy that can leave holes where the source has
// runs of zeroes.
package sparsefile

import (
	"fmt"
	"io"
	"os"
)

const DefaultBufferSize = 128 * 1024

type Options struct {
	BufferSize int  // chunk size, DefaultBufferSize when zero
	Sparse     bool // turn all-zero chunks into holes
}

// Copy replaces dst with the contents of src. dst is created/truncated
// with the given permission bits. In sparse mode an all-zero chunk is
// skipped with a forward seek instead of being written; since seeking
// past EOF does not extend the file, a trailing hole is materialized
// with one explicit byte write at the final offset.
//
// Returns the number of bytes of content processed (holes included).
func Copy(dstPath string, srcPath string, perm os.FileMode, opts Options) (int64, error) {
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}

	written, err := copyChunks(dst, src, bufSize, opts.Sparse)

	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("copy %s -> %s: %w", srcPath, dstPath, err)
	}

	return written, nil
}

func copyChunks(dst *os.File, src io.Reader, bufSize int, sparse bool) (int64, error) {
	buf := make([]byte, bufSize)

	total := int64(0)
	endsInHole := false

	for {
		n, readErr := io.ReadFull(src, buf)
		if readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return total, readErr
		}

		chunk := buf[:n]

		if sparse && allZeroes(chunk) {
			if _, err := dst.Seek(int64(n), io.SeekCurrent); err != nil {
				return total, err
			}
			endsInHole = true
		} else {
			if _, err := dst.Write(chunk); err != nil {
				return total, err
			}
			endsInHole = false
		}

		total += int64(n)

		if readErr == io.ErrUnexpectedEOF { // short final chunk
			break
		}
	}

	if endsInHole {
		// fix up EOF: write the last byte at its real offset
		if _, err := dst.WriteAt([]byte{0}, total-1); err != nil {
			return total, err
		}
	}

	return total, nil
}

func allZeroes(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}

	return true
}
