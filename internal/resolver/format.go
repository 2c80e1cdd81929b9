package resolver

import "strings"

// containerPreference breaks bitrate ties between direct formats. Lower is
// better; unlisted containers rank last.
var containerPreference = map[string]int{
	"m4a":  0,
	"mp4":  1,
	"webm": 2,
	"mp3":  3,
}

// Format is a single candidate stream from the extractor's format list.
type Format struct {
	URL        string  `json:"url"`
	Extension  string  `json:"ext"`
	Protocol   string  `json:"protocol"`
	AudioCodec string  `json:"acodec"`
	Bitrate    float64 `json:"abr"`
}

// IsSegmented reports whether this format is delivered as a segmented
// playlist rather than a single fetchable file. Segmented streams cannot be
// range-served directly and must be materialized via transcoding first.
func (format *Format) IsSegmented() bool {
	if strings.Contains(format.Protocol, "m3u8") {
		return true
	}

	return strings.Contains(format.URL, ".m3u8") || strings.Contains(format.URL, "/manifest/")
}

func (format *Format) hasAudio() bool {
	return format.URL != "" && format.AudioCodec != "none"
}

func (format *Format) containerRank() int {
	if rank, ok := containerPreference[format.Extension]; ok {
		return rank
	}

	return len(containerPreference)
}

// selectBestAudioFormat picks the stream to acquire. Direct formats always
// beat segmented ones; amongst direct formats the highest bitrate wins, with
// the container preference order breaking ties. A segmented format is only
// returned when no direct format carries audio at all.
func selectBestAudioFormat(formats []Format) *Format {
	var best *Format
	for i := range formats {
		candidate := &formats[i]
		if !candidate.hasAudio() {
			continue
		}

		if best == nil || isPreferredOver(candidate, best) {
			best = candidate
		}
	}

	return best
}

func isPreferredOver(candidate *Format, current *Format) bool {
	if candidate.IsSegmented() != current.IsSegmented() {
		return current.IsSegmented()
	}

	if candidate.Bitrate != current.Bitrate {
		return candidate.Bitrate > current.Bitrate
	}

	return candidate.containerRank() < current.containerRank()
}
