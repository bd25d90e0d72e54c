package iolib

import (
	"io"

	"github.com/pkg/errors"
)

var ErrShortWrite = errors.New("writer made no progress")

// WriteFull writes buf entirely unless w fails. A writer that accepts zero
// bytes without an error is reported as [ErrShortWrite] rather than spun on.
func WriteFull(w io.Writer, buf []byte) (uint, error) {
	total := uint(0)
	for total < uint(len(buf)) {
		n, err := w.Write(buf[total:])
		total += uint(n)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, ErrShortWrite
		}
	}
	return total, nil
}
