package domain

import "time"

// SourceKind identifies where catalog data and artwork come from.
// It doubles as the active mode reported by the host settings.
type SourceKind string

const (
	SourceRemote SourceKind = "REMOTE"
	SourceLocal  SourceKind = "LOCAL"
)

// String returns the kind as stored in snapshot metadata.
func (k SourceKind) String() string {
	if k == "" {
		return string(SourceRemote)
	}
	return string(k)
}

// CatalogRecord is one downloadable title.
// DownloadLinks is never nil once a record has passed through an adapter.
type CatalogRecord struct {
	ID            string              `json:"id"`                // stable name key
	ImageID       string              `json:"imageId,omitempty"` // cover art key, may be empty
	GameID        string              `json:"gameId,omitempty"`  // vendor game key, may be empty
	DownloadLinks map[string][]string `json:"downloadLinks"`     // provider -> URLs

	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Weight      int      `json:"weight,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Version     string   `json:"version,omitempty"`
	Size        string   `json:"size,omitempty"`
	Online      bool     `json:"online,omitempty"`
	DLC         bool     `json:"dlc,omitempty"`
}

// HasImage reports whether the record carries cover art that can be fetched.
func (r CatalogRecord) HasImage() bool {
	return r.ImageID != ""
}

// CatalogMetadata describes a snapshot as a whole.
type CatalogMetadata struct {
	SourceKind   SourceKind `json:"sourceKind"`
	FetchedAt    time.Time  `json:"fetchedAt"`
	RecordCount  int        `json:"recordCount"`
	LastModified string     `json:"lastModified,omitempty"` // server marker from HEAD /json/games
	ListVersion  string     `json:"listVersion,omitempty"`
	Origin       string     `json:"origin,omitempty"` // primary, cdn, persisted, local
}

// CatalogSnapshot is a homogeneous, wholesale-replaced view of the catalog.
// Callers must treat a snapshot returned from the cache as read-only.
type CatalogSnapshot struct {
	Records  []CatalogRecord `json:"records"`
	Metadata CatalogMetadata `json:"metadata"`
}

// EmptySnapshot returns a snapshot with no records for the given source.
func EmptySnapshot(kind SourceKind, now time.Time) *CatalogSnapshot {
	return &CatalogSnapshot{
		Records: []CatalogRecord{},
		Metadata: CatalogMetadata{
			SourceKind: kind,
			FetchedAt:  now,
		},
	}
}

// Len returns the number of records.
func (s *CatalogSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}
