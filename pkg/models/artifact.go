package models

import "time"

// Artifact is a stored, retrievable output file with a bounded lifetime
type Artifact struct {
	FileName    string    `json:"file_name"`
	MediaType   string    `json:"media_type"`
	SizeBytes   int64     `json:"filesize"`
	CreatedAt   time.Time `json:"created_at"`
	TTLSeconds  int       `json:"ttl_seconds"`
	DownloadURL string    `json:"download_url,omitempty"`
}

// ExpiresAt returns when the artifact becomes eligible for eviction
func (a Artifact) ExpiresAt() time.Time {
	return a.CreatedAt.Add(time.Duration(a.TTLSeconds) * time.Second)
}

// ItemFailure records one playlist entry that could not be produced
type ItemFailure struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}

// PlaylistResult is the outcome of processing a playlist
type PlaylistResult struct {
	Title       string        `json:"title,omitempty"`
	Requested   int           `json:"requested"`
	Produced    []Artifact    `json:"produced"`
	FailedCount int           `json:"failed_count"`
	Failures    []ItemFailure `json:"failures,omitempty"`
}

// Attempted returns how many entries were processed
func (r *PlaylistResult) Attempted() int {
	return len(r.Produced) + r.FailedCount
}
