package manifest

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
)

// Decode parses a catalog document into a normalized snapshot tagged with
// kind. Records without a name are dropped. Parse failures are reported as
// corrupt responses so callers can move on to the next source.
func Decode(data []byte, kind domain.SourceKind, now time.Time) (*domain.CatalogSnapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, domain.NewCorrupt(nil, "empty catalog payload")
	}

	var doc document
	if data[0] == '[' {
		// Bare array of games, as written by some dataset exporters.
		if err := json.Unmarshal(data, &doc.Games); err != nil {
			return nil, domain.NewCorrupt(err, "failed to parse catalog array")
		}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.NewCorrupt(err, "failed to parse catalog document")
	}

	records := make([]domain.CatalogRecord, 0, len(doc.Games))
	for _, g := range doc.Games {
		rec, ok := toRecord(g)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	return &domain.CatalogSnapshot{
		Records: records,
		Metadata: domain.CatalogMetadata{
			SourceKind:   kind,
			FetchedAt:    now,
			RecordCount:  len(records),
			LastModified: strings.TrimSpace(string(doc.Metadata.LastUpdated)),
			ListVersion:  strings.TrimSpace(string(doc.Metadata.ListVersion)),
		},
	}, nil
}

func toRecord(g gameDTO) (domain.CatalogRecord, bool) {
	name := strings.TrimSpace(string(g.Game))
	if name == "" {
		return domain.CatalogRecord{}, false
	}

	links := map[string][]string(g.DownloadLinks)
	if links == nil {
		links = map[string][]string{}
	}

	return domain.CatalogRecord{
		ID:            name,
		ImageID:       strings.TrimSpace(string(g.ImageID)),
		GameID:        strings.TrimSpace(string(g.GameID)),
		DownloadLinks: links,
		Title:         name,
		Description:   string(g.Description),
		Weight:        int(g.Weight),
		Categories:    []string(g.Category),
		Version:       strings.TrimSpace(string(g.Version)),
		Size:          strings.TrimSpace(string(g.Size)),
		Online:        bool(g.Online),
		DLC:           bool(g.DLC),
	}, true
}

// Normalize fills the defaults a record must carry regardless of where it
// was loaded from.
func Normalize(rec *domain.CatalogRecord) {
	if rec.DownloadLinks == nil {
		rec.DownloadLinks = map[string][]string{}
	}
	if rec.Title == "" {
		rec.Title = rec.ID
	}
}
