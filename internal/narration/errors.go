package narration

import (
	"errors"
	"io"
)

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

func isSinkError(err error) bool {
	return errors.Is(err, ErrSinkClosed)
}
