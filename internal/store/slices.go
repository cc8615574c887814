package store

import (
	"errors"
	"io"
)

// ForEachSlice reads r in slices of sliceSize bytes and calls fn for each
// non-empty slice, in order. The slice passed to fn is reused between calls.
func ForEachSlice(r io.Reader, sliceSize int64, fn func(slice []byte) error) error {
	if sliceSize <= 0 {
		return errors.New("slice size must be > 0")
	}
	buf := make([]byte, sliceSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if err := fn(buf[:n]); err != nil {
				return err
			}
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		case err != nil:
			return err
		}
	}
}
