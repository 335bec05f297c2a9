package models

// CatalogItemType is the kind of a catalog entity
type CatalogItemType string

// CatalogItemType constants
const (
	CatalogTrack    CatalogItemType = "track"
	CatalogAlbum    CatalogItemType = "album"
	CatalogPlaylist CatalogItemType = "playlist"
)

// CatalogItem is a track, album or playlist from the external catalog
type CatalogItem struct {
	Type       CatalogItemType `json:"type"`
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Artists    []string        `json:"artists,omitempty"`
	DurationMs *int            `json:"duration_ms,omitempty"`
	Children   []CatalogItem   `json:"children,omitempty"`
	Total      int             `json:"total,omitempty"`
}

// IsCollection reports whether the item holds child tracks
func (c CatalogItem) IsCollection() bool {
	return c.Type == CatalogAlbum || c.Type == CatalogPlaylist
}
