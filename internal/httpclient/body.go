package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// BodyTooLargeError reports a response body that exceeded the read cap.
type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("response body larger than %d bytes", e.Limit)
}

// IsBodyTooLarge reports whether err is a BodyTooLargeError.
func IsBodyTooLarge(err error) bool {
	var tooLarge *BodyTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadBody drains r into memory, capped at limit bytes. A non-positive limit
// reads everything. The cap guards against a misbehaving endpoint streaming
// an unbounded body into a daemon that keeps responses in memory.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, &BodyTooLargeError{Limit: limit}
	}
	return buf.Bytes(), nil
}
