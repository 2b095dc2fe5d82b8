package domain

import "slices"

// Stage tracks each orchestrator step for a single acquisition run.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageValidating  Stage = "validating"
	StageExtracting  Stage = "extracting"
	StageDownloading Stage = "downloading"
	StageConverting  Stage = "converting"
	StageCompleted   Stage = "completed"
	StageError       Stage = "error"
)

// IsTerminal reports whether the stage ends a run.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageError
}

// IsActive reports whether a run is executing in this stage.
func (s Stage) IsActive() bool {
	switch s {
	case StageValidating, StageExtracting, StageDownloading, StageConverting:
		return true
	default:
		return false
	}
}

// MediaType selects between audio-only and video output.
type MediaType string

const (
	MediaTypeAudio MediaType = "audio"
	MediaTypeVideo MediaType = "video"
)

// Valid reports whether t is one of the known media types.
func (t MediaType) Valid() bool {
	return t == MediaTypeAudio || t == MediaTypeVideo
}

// AudioQuality is an audio bitrate tier.
type AudioQuality string

const (
	AudioQuality128k AudioQuality = "128k"
	AudioQuality256k AudioQuality = "256k"
	AudioQuality320k AudioQuality = "320k"
)

// Valid reports whether q is a known bitrate tier.
func (q AudioQuality) Valid() bool {
	switch q {
	case AudioQuality128k, AudioQuality256k, AudioQuality320k:
		return true
	default:
		return false
	}
}

// VideoQuality is a video resolution tier.
type VideoQuality string

const (
	VideoQuality480p  VideoQuality = "480p"
	VideoQuality720p  VideoQuality = "720p"
	VideoQuality1080p VideoQuality = "1080p"
)

// Valid reports whether q is a known resolution tier.
func (q VideoQuality) Valid() bool {
	switch q {
	case VideoQuality480p, VideoQuality720p, VideoQuality1080p:
		return true
	default:
		return false
	}
}

// Resolution returns the fixed output frame size for the tier.
func (q VideoQuality) Resolution() (width, height int) {
	switch q {
	case VideoQuality1080p:
		return 1920, 1080
	case VideoQuality480p:
		return 854, 480
	default:
		return 1280, 720
	}
}

// AudioFormats lists the supported audio containers.
var AudioFormats = []string{"mp3", "m4a", "ogg", "wav", "flac", "opus"}

// VideoFormats lists the supported video containers.
var VideoFormats = []string{"mp4", "webm", "mkv"}

// ValidAudioFormat reports whether f is a supported audio container.
func ValidAudioFormat(f string) bool {
	return slices.Contains(AudioFormats, f)
}

// ValidVideoFormat reports whether f is a supported video container.
func ValidVideoFormat(f string) bool {
	return slices.Contains(VideoFormats, f)
}

// Preferences is the persisted user settings record.
type Preferences struct {
	SelectedVideoFormat string       `json:"selectedVideoFormat"`
	SelectedAudioFormat string       `json:"selectedAudioFormat"`
	VideoQuality        VideoQuality `json:"videoQuality"`
	AudioQuality        AudioQuality `json:"audioQuality"`
}

// RunOptions are the per-run choices made by presentation code.
type RunOptions struct {
	Type         MediaType    `json:"type"`
	AudioQuality AudioQuality `json:"audioQuality,omitempty"`
	VideoQuality VideoQuality `json:"videoQuality,omitempty"`
}

// MediaRequest is the immutable description of one run.
type MediaRequest struct {
	URL          string       `json:"url"`
	Type         MediaType    `json:"type"`
	AudioQuality AudioQuality `json:"audioQuality"`
	VideoQuality VideoQuality `json:"videoQuality"`
	AudioFormat  string       `json:"selectedAudioFormat"`
	VideoFormat  string       `json:"selectedVideoFormat"`
}

// Format returns the output container chosen for the request type.
func (r MediaRequest) Format() string {
	if r.Type == MediaTypeVideo {
		return r.VideoFormat
	}
	return r.AudioFormat
}

// Quality returns the quality tier relevant to the request type.
func (r MediaRequest) Quality() string {
	if r.Type == MediaTypeVideo {
		return string(r.VideoQuality)
	}
	return string(r.AudioQuality)
}

// VideoMetadata describes the source media as reported by the remote job.
type VideoMetadata struct {
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration,omitempty"`
	Thumbnail  string  `json:"thumbnail,omitempty"`
	UploadDate string  `json:"upload_date,omitempty"`
}

// RemoteStatus is the closed set of remote job states.
type RemoteStatus string

const (
	RemoteStatusProcessing RemoteStatus = "processing"
	RemoteStatusCompleted  RemoteStatus = "completed"
	RemoteStatusError      RemoteStatus = "error"
)

// IsTerminal reports whether the remote job will not change any more.
func (s RemoteStatus) IsTerminal() bool {
	return s == RemoteStatusCompleted || s == RemoteStatusError
}

// ExtractionJob is one remote-side unit of work.
type ExtractionJob struct {
	ID       string         `json:"id"`
	Status   RemoteStatus   `json:"status"`
	Progress float64        `json:"progress"`
	Message  string         `json:"message"`
	Filename string         `json:"filename,omitempty"`
	Metadata *VideoMetadata `json:"metadata,omitempty"`
}

// DownloadArtifact is the converted output handed to the host.
type DownloadArtifact struct {
	Bytes    []byte `json:"-"`
	Filename string `json:"filename"`
	MIMEType string `json:"mimeType"`
}

// StateError is the tagged failure attached to an Error state.
type StateError struct {
	Kind    string `json:"kind"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// ProcessingState is the externally observed orchestrator state.
type ProcessingState struct {
	Stage      Stage          `json:"stage"`
	Progress   int            `json:"progress"`
	Message    string         `json:"message"`
	Generation uint64         `json:"generation"`
	JobID      string         `json:"jobId,omitempty"`
	VideoInfo  *VideoMetadata `json:"videoInfo,omitempty"`
	Error      *StateError    `json:"error,omitempty"`
	Filename   string         `json:"filename,omitempty"`
}

// Clone returns a deep copy safe to hand to observers.
func (s ProcessingState) Clone() ProcessingState {
	out := s
	if s.VideoInfo != nil {
		info := *s.VideoInfo
		out.VideoInfo = &info
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}
