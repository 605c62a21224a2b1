// Package urlutil provides URL helpers for building proxy references and
// resolving playlist-relative paths. String manipulation is used instead of
// url.ResolveReference to preserve the original encoding; CDNs are picky
// about re-encoded path characters.
package urlutil

import (
	"net/url"
	"strings"
)

// ProxyPath is the same-origin path clients dereference to reach the relay.
const ProxyPath = "/proxy"

// PlaylistProxyPath is the same-origin path for proxied playlists.
const PlaylistProxyPath = "/proxy_m3u8"

// ProxyRef wraps an upstream URL as a same-origin relay reference.
func ProxyRef(upstreamURL string) string {
	return ProxyPath + "?url=" + url.QueryEscape(upstreamURL)
}

// PlaylistRef wraps an upstream playlist URL as a same-origin rewriter reference.
func PlaylistRef(upstreamURL string) string {
	return PlaylistProxyPath + "?url=" + url.QueryEscape(upstreamURL)
}

// BaseOf returns the playlist URL with its last /-separated segment dropped.
// This is the HLS sibling-resolution base; no ".." traversal handling.
func BaseOf(playlistURL string) string {
	if idx := strings.LastIndex(playlistURL, "/"); idx > 0 {
		return playlistURL[:idx]
	}
	return playlistURL
}

// JoinBase joins a playlist base with a relative reference using a single
// slash separator.
func JoinBase(base, ref string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(ref, "/")
}

// IsAbsolute reports whether a manifest line carries an absolute URI.
func IsAbsolute(ref string) bool {
	return strings.HasPrefix(ref, "http")
}
