package models

import "strconv"

// MediaReference identifies remote content. It is either a Single item or a
// Playlist; consumers switch on the concrete type.
type MediaReference interface {
	SourceURL() string
	isMediaReference()
}

// Single references one hosted media item
type Single struct {
	URL string `json:"url"`
}

// SourceURL returns the hosting-service URL
func (s Single) SourceURL() string { return s.URL }

func (Single) isMediaReference() {}

// Playlist references a hosted playlist expanded to at most ItemLimit entries
type Playlist struct {
	URL       string `json:"url"`
	ItemLimit int    `json:"item_limit"`
}

// SourceURL returns the hosting-service URL
func (p Playlist) SourceURL() string { return p.URL }

func (Playlist) isMediaReference() {}

// DefaultPlaylistLimit is used when a playlist reference carries no limit
const DefaultPlaylistLimit = 5

// Metadata describes resolved content
type Metadata struct {
	ID              string             `json:"id,omitempty"`
	Title           string             `json:"title"`
	DurationSeconds float64            `json:"duration"`
	ThumbnailURL    string             `json:"thumbnail,omitempty"`
	Channel         string             `json:"channel,omitempty"`
	Views           int64              `json:"views,omitempty"`
	WebpageURL      string             `json:"url,omitempty"`
	Formats         []FormatDescriptor `json:"formats"`
	Entries         []MediaReference   `json:"entries,omitempty"`

	// Streams is the full list of encodings offered by the extraction engine,
	// before deduplication. The acquirer selects from it.
	Streams []Stream `json:"-"`
}

// IsPlaylist reports whether the metadata was resolved from a playlist
func (m *Metadata) IsPlaylist() bool {
	return m.Entries != nil
}

// FormatDescriptor is a user-facing summary of one available resolution
type FormatDescriptor struct {
	Height          *int   `json:"height,omitempty"`
	Container       string `json:"container"`
	ApproxSizeBytes *int64 `json:"approx_size,omitempty"`
}

// Resolution returns the descriptor's height as "720p", or "unknown"
func (f FormatDescriptor) Resolution() string {
	if f.Height == nil {
		return "unknown"
	}
	return strconv.Itoa(*f.Height) + "p"
}

// Stream is one concrete encoding the extraction engine can fetch
type Stream struct {
	FormatID        string  `json:"format_id"`
	Container       string  `json:"container"`
	Height          *int    `json:"height,omitempty"`
	VideoCodec      string  `json:"vcodec,omitempty"`
	AudioCodec      string  `json:"acodec,omitempty"`
	Bitrate         float64 `json:"tbr,omitempty"`
	ApproxSizeBytes *int64  `json:"approx_size,omitempty"`
}

// HasVideo reports whether the stream carries a video track
func (s Stream) HasVideo() bool {
	return s.VideoCodec != "" && s.VideoCodec != "none"
}

// HasAudio reports whether the stream carries an audio track
func (s Stream) HasAudio() bool {
	return s.AudioCodec != "" && s.AudioCodec != "none"
}

// SearchResult is one hit of a hosting-service search
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	ID    string `json:"id"`
}
