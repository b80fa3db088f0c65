package board

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

// Selectors for the board layouts we know about. The next-gen board marks
// everything with data-testid, the classic board uses ghx-* classes.
const (
	nextGenColumnSelector     = `[data-testid^="platform-board-kit.ui.column"]`
	nextGenColumnNameSelector = `[data-testid*="column-name"]`
	attrColumnSelector        = `[data-column-name]`
	classicColumnSelector     = `.ghx-column[data-column-id]`

	labelSelector       = `.label, [role="label"]`
	descriptionSelector = `.ghx-description, [data-testid*="description"]`
	lozengeSelector     = `.lozenge, [role="lozenge"], [data-testid*="lozenge"]`
)

var testedTokens = []string{"tested", "auto-tested"}

// KeyExtractor tries to read an issue key off a card
type KeyExtractor func(card *goquery.Selection) (string, bool)

// ColumnResolver tries to find the displayed title of the card's column
type ColumnResolver func(card *goquery.Selection) (string, bool)

// MarkerCheck reports whether a card carries a "tested" marker
type MarkerCheck func(card *goquery.Selection) bool

// Classifier reads CardSnapshots off card nodes. Each concern is an ordered
// chain of strategies; the first strategy that yields a value wins.
type Classifier struct {
	Keys    []KeyExtractor
	Columns []ColumnResolver
	Markers []MarkerCheck
}

// NewClassifier returns a classifier with the default strategy chains
func NewClassifier() *Classifier {
	return &Classifier{
		Keys: []KeyExtractor{
			AttrKey("data-issue-key"),
			AttrKey("data-issuekey"),
			DescendantAttrKey("data-issue-key"),
			DescendantAttrKey("data-issuekey"),
			TextKey,
		},
		Columns: []ColumnResolver{
			NestedColumn(nextGenColumnSelector, nextGenColumnNameSelector),
			AttrColumn(attrColumnSelector, "data-column-name"),
			ClassicColumn,
		},
		Markers: []MarkerCheck{
			SelectorMarker(labelSelector, exactToken),
			SelectorMarker(descriptionSelector, containsToken),
			SelectorMarker(lozengeSelector, exactToken),
			OwnTextMarker,
		},
	}
}

// Classify reads a snapshot off card. It returns false when no issue key
// can be resolved; such cards are never emitted. A missing column yields an
// empty label, which the scanner drops as untracked.
func (c *Classifier) Classify(card *goquery.Selection) (domain.CardSnapshot, bool) {
	key, ok := c.issueKey(card)
	if !ok {
		return domain.CardSnapshot{}, false
	}
	return domain.CardSnapshot{
		IssueKey:     key,
		ColumnLabel:  c.columnLabel(card),
		TestedMarker: c.tested(card),
	}, true
}

func (c *Classifier) issueKey(card *goquery.Selection) (string, bool) {
	for _, extract := range c.Keys {
		if key, ok := extract(card); ok {
			return key, true
		}
	}
	return "", false
}

func (c *Classifier) columnLabel(card *goquery.Selection) string {
	for _, resolve := range c.Columns {
		if label, ok := resolve(card); ok {
			return label
		}
	}
	return ""
}

// tested runs the marker checks cheapest first and stops on the first hit
func (c *Classifier) tested(card *goquery.Selection) bool {
	for _, check := range c.Markers {
		if check(card) {
			return true
		}
	}
	return false
}

// AttrKey reads the key from an attribute on the card itself
func AttrKey(attr string) KeyExtractor {
	return func(card *goquery.Selection) (string, bool) {
		v, ok := card.Attr(attr)
		v = strings.TrimSpace(v)
		if !ok || !domain.ValidIssueKey(v) {
			return "", false
		}
		return v, true
	}
}

// DescendantAttrKey reads the key from the first descendant carrying attr
func DescendantAttrKey(attr string) KeyExtractor {
	return func(card *goquery.Selection) (string, bool) {
		var key string
		card.Find("[" + attr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr(attr)
			v = strings.TrimSpace(v)
			if domain.ValidIssueKey(v) {
				key = v
				return false
			}
			return true
		})
		return key, key != ""
	}
}

// TextKey scans the card's visible text for the first issue key
func TextKey(card *goquery.Selection) (string, bool) {
	return domain.FindIssueKey(visibleText(card))
}

// NestedColumn walks outward through ancestors matching container and returns
// the first non-empty name element found inside one of them. Boards nest
// several column wrappers and only the outer one holds the header.
func NestedColumn(container, name string) ColumnResolver {
	return func(card *goquery.Selection) (string, bool) {
		var label string
		card.ParentsFiltered(container).EachWithBreak(func(_ int, col *goquery.Selection) bool {
			if el := col.Find(name).First(); el.Length() > 0 {
				label = strings.TrimSpace(visibleText(el))
			}
			return label == ""
		})
		return label, label != ""
	}
}

// AttrColumn reads the column title from an attribute on the nearest container
func AttrColumn(container, attr string) ColumnResolver {
	return func(card *goquery.Selection) (string, bool) {
		v, _ := card.ParentsFiltered(container).First().Attr(attr)
		v = strings.TrimSpace(v)
		return v, v != ""
	}
}

// ClassicColumn resolves classic boards, where cards sit in a column body
// keyed by data-column-id and titles live in a separate header row.
func ClassicColumn(card *goquery.Selection) (string, bool) {
	id, ok := card.ParentsFiltered(classicColumnSelector).First().Attr("data-column-id")
	if !ok || id == "" || strings.ContainsAny(id, `"\`) {
		return "", false
	}
	root := card.Parents().Last()
	header := root.Find(`.ghx-column-headers [data-id="` + id + `"]`).First()
	if header.Length() == 0 {
		return "", false
	}
	title := header.Find("h2, .ghx-column-title").First()
	if title.Length() == 0 {
		title = header
	}
	label := strings.TrimSpace(visibleText(title))
	return label, label != ""
}

// SelectorMarker checks every element matching sel with match
func SelectorMarker(sel string, match func(string) bool) MarkerCheck {
	return func(card *goquery.Selection) bool {
		found := false
		card.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = match(visibleText(s))
			return !found
		})
		return found
	}
}

// OwnTextMarker is the exhaustive fallback: any descendant whose own text is
// exactly a tested token
func OwnTextMarker(card *goquery.Selection) bool {
	found := false
	card.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = exactToken(ownText(s.Nodes[0]))
		return !found
	})
	return found
}

func exactToken(text string) bool {
	t := normalize(text)
	for _, token := range testedTokens {
		if t == token {
			return true
		}
	}
	return false
}

func containsToken(text string) bool {
	t := normalize(text)
	for _, token := range testedTokens {
		if strings.Contains(t, token) {
			return true
		}
	}
	return false
}
