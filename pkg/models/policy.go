package models

import "strings"

// Container constants
const (
	ContainerMP4  = "mp4"
	ContainerWebM = "webm"
	ContainerMP3  = "mp3"
	ContainerM4A  = "m4a"
)

// SelectionPolicy constrains which encodings the acquirer may pick
type SelectionPolicy struct {
	MaxHeight          int    `json:"max_height,omitempty"`
	AudioOnly          bool   `json:"audio_only,omitempty"`
	PreferredContainer string `json:"container"`
	SubtitleLanguage   string `json:"subtitle_language,omitempty"`
}

// PolicyOptions are the raw request parameters for NewSelectionPolicy
type PolicyOptions struct {
	MaxHeight        int
	AudioOnly        bool
	Container        string
	SubtitleLanguage string
}

// NewSelectionPolicy validates opts and builds a policy. Video policies
// require a positive height; audio-only policies take no height and no
// subtitles.
func NewSelectionPolicy(opts PolicyOptions) (SelectionPolicy, error) {
	container := strings.ToLower(strings.TrimSpace(opts.Container))
	lang := strings.TrimSpace(opts.SubtitleLanguage)

	if opts.AudioOnly {
		if opts.MaxHeight != 0 {
			return SelectionPolicy{}, ValidationError("policy", "max height cannot be combined with audio-only mode")
		}
		if lang != "" {
			return SelectionPolicy{}, ValidationError("policy", "subtitles cannot be burned into audio-only output")
		}
		if container == "" {
			container = ContainerMP3
		}
		if container != ContainerMP3 && container != ContainerM4A {
			return SelectionPolicy{}, ValidationError("policy", "unsupported audio container %q", container)
		}
		return SelectionPolicy{AudioOnly: true, PreferredContainer: container}, nil
	}

	if opts.MaxHeight <= 0 {
		return SelectionPolicy{}, ValidationError("policy", "max height must be positive, got %d", opts.MaxHeight)
	}
	if container == "" {
		container = ContainerMP4
	}
	if container != ContainerMP4 && container != ContainerWebM {
		return SelectionPolicy{}, ValidationError("policy", "unsupported video container %q", container)
	}

	return SelectionPolicy{
		MaxHeight:          opts.MaxHeight,
		PreferredContainer: container,
		SubtitleLanguage:   lang,
	}, nil
}

// ComposeOptions tells the transcoding engine what to produce
type ComposeOptions struct {
	TargetContainer  string
	AudioCodec       string
	AudioBitrate     string
	SubtitleLanguage string
	SubtitleFormat   string
}

// ComposeOptions derives transcoding options from the policy
func (p SelectionPolicy) ComposeOptions() ComposeOptions {
	opts := ComposeOptions{
		TargetContainer:  p.PreferredContainer,
		SubtitleLanguage: p.SubtitleLanguage,
		SubtitleFormat:   "srt",
	}

	switch p.PreferredContainer {
	case ContainerMP3:
		opts.AudioCodec = "libmp3lame"
		opts.AudioBitrate = "192k"
	case ContainerM4A, ContainerMP4:
		opts.AudioCodec = "aac"
		opts.AudioBitrate = "192k"
	case ContainerWebM:
		opts.AudioCodec = "libopus"
		opts.AudioBitrate = "160k"
	}

	return opts
}
