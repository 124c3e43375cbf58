// Package source maps a video URL to a playback source kind. Pure string
// matching, no network I/O, never fails.
package source

import (
	"regexp"
	"strings"
)

// Kind identifies how a URL should be played back.
type Kind string

const (
	KindYouTube     Kind = "youtube"
	KindTwitch      Kind = "twitch"
	KindDirectMedia Kind = "direct-media"
	KindUnsupported Kind = "unsupported"
)

var (
	youtubeIDRe     = regexp.MustCompile(`(?:youtu\.be/|youtube\.com(?:/embed/|/v/|/watch\?v=|/watch\?.+&v=))([^&?\s]+)`)
	twitchChannelRe = regexp.MustCompile(`twitch\.tv/(\w+)`)
	directMediaRe   = regexp.MustCompile(`\.(?:mp4|webm|m3u8)(?:\?|$)`)
)

// Classification is the result of classifying one URL. VideoID is set only
// for youtube URLs whose id could be extracted; a recognized youtube URL with
// no extractable id still classifies as youtube with an empty id. Channel is
// set only for twitch URLs.
type Classification struct {
	Kind    Kind
	VideoID string
	Channel string
}

// Classify maps a URL to its source kind. Matching is deliberately
// case-sensitive and scheme-agnostic, mirroring the player contract.
func Classify(url string) Classification {
	if strings.Contains(url, "youtube.com") || strings.Contains(url, "youtu.be") {
		c := Classification{Kind: KindYouTube}
		if m := youtubeIDRe.FindStringSubmatch(url); m != nil {
			c.VideoID = m[1]
		}
		return c
	}
	if strings.Contains(url, "twitch.tv") {
		c := Classification{Kind: KindTwitch}
		if m := twitchChannelRe.FindStringSubmatch(url); m != nil {
			c.Channel = m[1]
		}
		return c
	}
	if directMediaRe.MatchString(url) {
		return Classification{Kind: KindDirectMedia}
	}
	return Classification{Kind: KindUnsupported}
}
