package extractor

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// rawInfo is the subset of the engine's JSON dump the service reads
type rawInfo struct {
	Type       string      `json:"_type"`
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Duration   *float64    `json:"duration"`
	Thumbnail  string      `json:"thumbnail"`
	Channel    string      `json:"channel"`
	Uploader   string      `json:"uploader"`
	ViewCount  *float64    `json:"view_count"`
	WebpageURL string      `json:"webpage_url"`
	URL        string      `json:"url"`
	Formats    []rawFormat `json:"formats"`
	Entries    []rawInfo   `json:"entries"`
}

type rawFormat struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Height         *float64 `json:"height"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	TBR            *float64 `json:"tbr"`
	ABR            *float64 `json:"abr"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
}

func decodeInfo(data []byte) (*rawInfo, error) {
	var info rawInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode engine output: %w", err)
	}
	return &info, nil
}

func (f rawFormat) stream() models.Stream {
	s := models.Stream{
		FormatID:   f.FormatID,
		Container:  f.Ext,
		VideoCodec: f.VCodec,
		AudioCodec: f.ACodec,
	}
	if f.Height != nil && *f.Height > 0 {
		h := int(*f.Height)
		s.Height = &h
	}
	switch {
	case f.TBR != nil:
		s.Bitrate = *f.TBR
	case f.ABR != nil:
		s.Bitrate = *f.ABR
	}
	switch {
	case f.Filesize != nil:
		size := int64(math.Round(*f.Filesize))
		s.ApproxSizeBytes = &size
	case f.FilesizeApprox != nil:
		size := int64(math.Round(*f.FilesizeApprox))
		s.ApproxSizeBytes = &size
	}
	return s
}

func (r *rawInfo) streams() []models.Stream {
	return lo.Map(r.Formats, func(f rawFormat, _ int) models.Stream {
		return f.stream()
	})
}

// entryURL returns a fetchable URL for a flat playlist entry
func (r *rawInfo) entryURL() string {
	if r.WebpageURL != "" {
		return r.WebpageURL
	}
	if strings.HasPrefix(r.URL, "http://") || strings.HasPrefix(r.URL, "https://") {
		return r.URL
	}
	if r.ID != "" {
		return "https://www.youtube.com/watch?v=" + r.ID
	}
	return ""
}

// describeFormats lists video-bearing streams, one per height, first
// occurrence wins
func describeFormats(streams []models.Stream) []models.FormatDescriptor {
	video := lo.Filter(streams, func(s models.Stream, _ int) bool {
		return s.HasVideo()
	})
	unique := lo.UniqBy(video, func(s models.Stream) int {
		if s.Height == nil {
			return -1
		}
		return *s.Height
	})
	return lo.Map(unique, func(s models.Stream, _ int) models.FormatDescriptor {
		return models.FormatDescriptor{
			Height:          s.Height,
			Container:       s.Container,
			ApproxSizeBytes: s.ApproxSizeBytes,
		}
	})
}

func (r *rawInfo) metadata() *models.Metadata {
	streams := r.streams()
	meta := &models.Metadata{
		ID:           r.ID,
		Title:        r.Title,
		ThumbnailURL: r.Thumbnail,
		Channel:      lo.Ternary(r.Channel != "", r.Channel, r.Uploader),
		WebpageURL:   r.WebpageURL,
		Formats:      describeFormats(streams),
		Streams:      streams,
	}
	if r.Duration != nil {
		meta.DurationSeconds = *r.Duration
	}
	if r.ViewCount != nil {
		meta.Views = int64(*r.ViewCount)
	}
	return meta
}
