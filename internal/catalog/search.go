package catalog

import (
	"context"
	"sort"
	"strings"

	fuzzysearch "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/kiosk/internal/domain"
)

// Match is a search hit with the matched title positions for highlighting.
type Match struct {
	Record         domain.CatalogRecord
	Score          int // higher is better
	MatchedIndexes []int
}

// Search ranks records whose titles fuzzily match query. limit <= 0 means
// no limit.
func (c *Cache) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}

	st, err := c.current(ctx)
	if err != nil {
		return nil, err
	}

	found := fuzzy.FindFrom(query, st.titles)
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	matches := make([]Match, len(found))
	for i, m := range found {
		matches[i] = Match{
			Record:         st.snapshot.Records[m.Index],
			Score:          m.Score,
			MatchedIndexes: m.MatchedIndexes,
		}
	}
	return matches, nil
}

// FindByName resolves a display name to a record: an exact case-insensitive
// title or id match first, then the closest normalized subsequence match.
func (c *Cache) FindByName(ctx context.Context, name string) (domain.CatalogRecord, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.CatalogRecord{}, false, nil
	}

	st, err := c.current(ctx)
	if err != nil {
		return domain.CatalogRecord{}, false, err
	}

	for _, r := range st.snapshot.Records {
		if strings.EqualFold(r.Title, name) || strings.EqualFold(r.ID, name) {
			return r, true, nil
		}
	}

	ranks := fuzzysearch.RankFindNormalizedFold(name, st.titles)
	if len(ranks) == 0 {
		return domain.CatalogRecord{}, false, nil
	}
	sort.Stable(ranks)
	return st.snapshot.Records[ranks[0].OriginalIndex], true, nil
}
