// Package interfaces defines the core abstractions of the gateway. The
// handlers depend on these rather than on concrete implementations, so tests
// can substitute no-network doubles.
package interfaces

import (
	"context"

	"tunegate/pkg/types"
)

// Fetcher opens upstream HTTP connections on behalf of the relay and the
// playlist rewriter.
type Fetcher interface {
	// FetchMedia issues a GET for a media resource, forwarding the client's
	// Range header when non-empty. The returned body is a live stream and
	// must be closed by the caller. A non-200/206 upstream status is
	// reported as an error, never as a success response.
	FetchMedia(ctx context.Context, url, rangeHeader string) (*types.UpstreamResponse, error)

	// FetchPlaylist fetches a playlist manifest in full. Manifests are small
	// text documents, so the body is buffered. A non-200 upstream status is
	// reported as an error.
	FetchPlaylist(ctx context.Context, url string) ([]byte, error)
}

// Resolver turns a free-text query into playable media candidates.
// Resolution internals (search, extraction) are outside the gateway core.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*types.MediaInfo, error)
}

// StreamSink receives resolved URLs for an external restreaming collaborator.
// Publish must be atomic enough that a concurrent reader sees either the old
// or the new complete URL, never a partial write.
type StreamSink interface {
	Publish(videoURL, audioURL string) error
}
