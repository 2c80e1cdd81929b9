package ranking

import (
	"sort"
	"strings"

	"github.com/arialabs/aria/internal/media"
)

// Per-field scores. A field contributes the score of the FIRST rule which
// matches, scaled by the field's weight; later rules are never consulted for
// that field.
const (
	scoreExactMatch     = 50
	scoreQuerySubstring = 35
	scoreFieldSubstring = 25
	scorePrefixMatch    = 20
	scoreSuffixMatch    = 18
	scoreWordMatch      = 15

	weightKeywords = 3
	weightTitle    = 2
	weightArtist   = 1

	// Cumulative score thresholds past which the remaining, cheaper fields
	// are not scored at all.
	skipTitleThreshold  = 80
	skipArtistThreshold = 40

	// Prefix/suffix matches only count when the query word covers at least
	// this share of the field word.
	affixCoverageRatio = 0.6
)

type query struct {
	lowered string
	folded  string
	words   []string
}

func newQuery(raw string) *query {
	lowered := strings.TrimSpace(strings.ToLower(raw))
	folded := foldDiacritics(lowered)
	return &query{
		lowered: lowered,
		folded:  folded,
		words:   strings.Fields(folded),
	}
}

// Rank scores every candidate against the query and returns the matching
// items ordered best-first. Items scoring zero are excluded entirely. The
// sort is stable, so equally scored items keep their incoming order.
func Rank(items []*media.Item, rawQuery string) []*media.Item {
	q := newQuery(rawQuery)
	if q.lowered == "" {
		return items
	}

	type rankedItem struct {
		item  *media.Item
		score int
	}

	ranked := make([]rankedItem, 0, len(items))
	for _, item := range items {
		if score := scoreItem(q, item); score > 0 {
			ranked = append(ranked, rankedItem{item, score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	results := make([]*media.Item, len(ranked))
	for k, v := range ranked {
		results[k] = v.item
	}

	return results
}

// scoreItem accumulates the weighted field scores for a single item.
// Keywords are checked first as a strong keyword match makes the weaker
// fields redundant; the title and artist fields are skipped once the
// cumulative score crosses their thresholds.
func scoreItem(q *query, item *media.Item) int {
	score := 0
	if len(item.Keywords) > 0 {
		score += scoreField(q, strings.Join(item.Keywords, ","), weightKeywords)
	}

	if score < skipTitleThreshold && item.Title != "" {
		score += scoreField(q, item.Title, weightTitle)
	}

	if score < skipArtistThreshold && item.Artist != "" {
		score += scoreField(q, item.Artist, weightArtist)
	}

	return score
}

func scoreField(q *query, field string, weight int) int {
	fieldLowered := strings.ToLower(field)
	fieldFolded := foldDiacritics(fieldLowered)

	if q.lowered == fieldLowered || q.folded == fieldFolded {
		return scoreExactMatch * weight
	}

	if strings.Contains(fieldLowered, q.lowered) || strings.Contains(fieldFolded, q.folded) {
		return scoreQuerySubstring * weight
	}

	if strings.Contains(q.lowered, fieldLowered) || strings.Contains(q.folded, fieldFolded) {
		return scoreFieldSubstring * weight
	}

	for _, word := range q.words {
		if len(word) >= 2 && strings.Contains(fieldFolded, word) {
			return scoreWordMatch * weight
		}
	}

	for _, word := range q.words {
		if len(word) < 3 {
			continue
		}

		for _, fieldWord := range strings.Fields(fieldFolded) {
			if len(fieldWord) < 3 {
				continue
			}

			if float64(len(word)) >= float64(len(fieldWord))*affixCoverageRatio {
				if strings.HasPrefix(fieldWord, word) {
					return scorePrefixMatch * weight
				}
				if strings.HasSuffix(fieldWord, word) {
					return scoreSuffixMatch * weight
				}
			}
		}
	}

	return 0
}
