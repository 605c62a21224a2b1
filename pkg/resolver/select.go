// Package resolver defines the resolution façade and the candidate selection
// core shared by every resolution endpoint.
package resolver

import "tunegate/pkg/types"

// SelectOptions parameterizes video candidate selection.
type SelectOptions struct {
	// MaxHeight caps the vertical resolution; zero means no ceiling.
	MaxHeight int
	// RequireCombined restricts selection to candidates carrying both audio
	// and video tracks.
	RequireCombined bool
	// PreferDirect prefers non-HLS transport, avoiding the extra
	// playlist-rewrite hop. HLS candidates are used only when nothing else
	// qualifies.
	PreferDirect bool
}

// SelectAudio returns the first audio-only candidate, or nil.
func SelectAudio(info *types.MediaInfo) *types.Format {
	for i := range info.Formats {
		f := &info.Formats[i]
		if f.HasAudio() && !f.HasVideo() {
			return f
		}
	}
	return nil
}

// SelectVideo returns the video candidate with the greatest height under the
// given options, or nil. Ties are broken by first-encountered order.
func SelectVideo(info *types.MediaInfo, opts SelectOptions) *types.Format {
	best := pickVideo(info, opts)
	if best == nil && opts.PreferDirect {
		// No direct candidate; fall back to chunked transport.
		relaxed := opts
		relaxed.PreferDirect = false
		best = pickVideo(info, relaxed)
	}
	return best
}

func pickVideo(info *types.MediaInfo, opts SelectOptions) *types.Format {
	var best *types.Format
	bestHeight := -1

	for i := range info.Formats {
		f := &info.Formats[i]
		if !f.HasVideo() {
			continue
		}
		if opts.RequireCombined && !f.HasAudio() {
			continue
		}
		if opts.PreferDirect && f.IsHLS() {
			continue
		}
		if opts.MaxHeight > 0 && f.Height > opts.MaxHeight {
			continue
		}
		if f.Height > bestHeight {
			bestHeight = f.Height
			best = f
		}
	}
	return best
}
