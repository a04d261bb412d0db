package execclient

import (
	"bytes"
	"io"
)

func newReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// drainAndClose reads up to 1 MiB of what is left of resp.Body and closes
// it, so the underlying
// connection can be reused by the transport's connection pool instead of
// being torn down, the same HTTP/2 GOAWAY avoidance the rest of the
// reference stack's own RPC helper applies.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
