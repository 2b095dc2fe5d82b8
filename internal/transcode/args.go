package transcode

import (
	"strconv"
	"strings"

	"carbalite/internal/domain"
)

// MetadataTitle is written into every audio artifact.
const MetadataTitle = "CarbaLite Download"

var audioCodecs = map[string]string{
	"mp3":  "libmp3lame",
	"m4a":  "aac",
	"ogg":  "libvorbis",
	"opus": "libopus",
	"wav":  "pcm_s16le",
	"flac": "flac",
}

// Lossless and PCM codecs ignore a target bitrate.
var bitrateless = map[string]bool{
	"wav":  true,
	"flac": true,
}

// Target selects the output container and quality tier.
type Target struct {
	Type    domain.MediaType
	Format  string
	Quality string
}

// Normalize fills unknown formats and qualities with the type's defaults.
func (t Target) Normalize() Target {
	t.Format = strings.ToLower(strings.TrimSpace(t.Format))
	if t.Type == domain.MediaTypeVideo {
		if !domain.ValidVideoFormat(t.Format) {
			t.Format = "mp4"
		}
		if !domain.VideoQuality(t.Quality).Valid() {
			t.Quality = string(domain.VideoQuality720p)
		}
		return t
	}

	t.Type = domain.MediaTypeAudio
	if !domain.ValidAudioFormat(t.Format) {
		t.Format = "mp3"
	}
	if !domain.AudioQuality(t.Quality).Valid() {
		t.Quality = string(domain.AudioQuality320k)
	}
	return t
}

// TargetFor derives the conversion target from a run request.
func TargetFor(req domain.MediaRequest) Target {
	return Target{Type: req.Type, Format: req.Format(), Quality: req.Quality()}.Normalize()
}

// buildArgs builds the ffmpeg CLI args for one conversion. target must be normalized.
func buildArgs(inputPath, outPath string, target Target) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-progress", "pipe:2",
		"-nostats",
		"-i", inputPath,
	}

	if target.Type == domain.MediaTypeVideo {
		args = append(args, buildVideoArgs(target)...)
	} else {
		args = append(args, buildAudioArgs(target)...)
	}

	return append(args, outPath)
}

// buildAudioArgs drops the video stream and encodes with the format's codec.
func buildAudioArgs(target Target) []string {
	args := []string{"-vn", "-c:a", audioCodecs[target.Format]}
	if !bitrateless[target.Format] {
		args = append(args, "-b:a", target.Quality)
	}
	return append(args, "-metadata", "title="+MetadataTitle)
}

// buildVideoArgs scales to the tier's frame size. WebM cannot carry H.264 or
// AAC, so it gets VP9 and Opus at the same constant-quality setting.
func buildVideoArgs(target Target) []string {
	w, h := domain.VideoQuality(target.Quality).Resolution()
	scale := "scale=" + strconv.Itoa(w) + ":" + strconv.Itoa(h)

	if target.Format == "webm" {
		return []string{
			"-c:v", "libvpx-vp9",
			"-c:a", "libopus",
			"-vf", scale,
			"-crf", "23",
			"-b:v", "0",
		}
	}

	args := []string{
		"-c:v", "libx264",
		"-c:a", "aac",
		"-vf", scale,
		"-crf", "23",
		"-preset", "medium",
	}
	if target.Format == "mp4" {
		args = append(args, "-movflags", "+faststart")
	}
	return args
}
