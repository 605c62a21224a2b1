package types

import "io"

// UpstreamResponse is the successful outcome of a media fetch: the upstream
// status (200 or 206), the forwarded header subset, and the body stream.
// The body is consumed at most once and must be closed by the caller.
type UpstreamResponse struct {
	StatusCode    int
	ContentType   string
	ContentLength string
	ContentRange  string
	Body          io.ReadCloser
}
