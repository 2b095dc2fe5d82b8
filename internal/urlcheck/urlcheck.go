// Package urlcheck classifies input strings into supported media sources.
package urlcheck

import (
	"regexp"
	"strings"
)

// Source is the kind of media site a URL points at.
type Source string

const (
	SourceUnsupported Source = "unsupported"
	SourceYouTube     Source = "youtube"
	SourceSoundCloud  Source = "soundcloud"
)

// Both patterns are anchored at the start only. A URL matches when a known
// path shape precedes an 11 character id, so playlist references that carry
// a video id are accepted as well.
var (
	youtubePattern = regexp.MustCompile(
		`^(https?://)?(www\.)?(youtube|youtu|youtube-nocookie)\.(com|be)/` +
			`(watch\?v=|embed/|v/|.+\?v=)?([^&=%\?]{11})`,
	)
	soundcloudPattern = regexp.MustCompile(`^(https?://)?(www\.)?soundcloud\.com/[\w\-\.]+`)
)

// Classify maps a URL to its source without touching the network.
func Classify(rawURL string) Source {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		return SourceUnsupported
	}

	switch {
	case youtubePattern.MatchString(url):
		return SourceYouTube
	case soundcloudPattern.MatchString(url):
		return SourceSoundCloud
	default:
		return SourceUnsupported
	}
}

// Supported reports whether Classify recognises the URL.
func Supported(rawURL string) bool {
	return Classify(rawURL) != SourceUnsupported
}
