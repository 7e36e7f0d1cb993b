package catalog

import (
	"strings"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
)

// state is one installed snapshot together with the indexes derived from it.
// It is immutable once built and replaced wholesale.
type state struct {
	snapshot  *domain.CatalogSnapshot
	byImage   map[string]int
	byGame    map[string]int
	titles    titleSource
	expiresAt time.Time
	degraded  bool
}

// newState indexes snap. The first record wins when ids collide.
func newState(snap *domain.CatalogSnapshot, expiresAt time.Time, degraded bool) *state {
	st := &state{
		snapshot:  snap,
		byImage:   make(map[string]int, len(snap.Records)),
		byGame:    make(map[string]int, len(snap.Records)),
		titles:    make(titleSource, len(snap.Records)),
		expiresAt: expiresAt,
		degraded:  degraded,
	}
	for i, r := range snap.Records {
		if r.ImageID != "" {
			if _, dup := st.byImage[r.ImageID]; !dup {
				st.byImage[r.ImageID] = i
			}
		}
		if r.GameID != "" {
			if _, dup := st.byGame[r.GameID]; !dup {
				st.byGame[r.GameID] = i
			}
		}
		st.titles[i] = strings.ToLower(r.Title)
	}
	return st
}

func (st *state) mode() domain.SourceKind {
	return st.snapshot.Metadata.SourceKind
}

func (st *state) fresh(now time.Time) bool {
	return now.Before(st.expiresAt)
}

func (st *state) byImageID(id string) (domain.CatalogRecord, bool) {
	i, ok := st.byImage[id]
	if !ok {
		return domain.CatalogRecord{}, false
	}
	return st.snapshot.Records[i], true
}

func (st *state) byGameID(id string) (domain.CatalogRecord, bool) {
	i, ok := st.byGame[id]
	if !ok {
		return domain.CatalogRecord{}, false
	}
	return st.snapshot.Records[i], true
}

// titleSource implements sahilm/fuzzy.Source over lowercase titles.
type titleSource []string

func (t titleSource) String(i int) string { return t[i] }
func (t titleSource) Len() int            { return len(t) }
