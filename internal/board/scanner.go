package board

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

// CardSelector matches card nodes on next-gen and classic boards
const CardSelector = `[data-testid="platform-board-kit.ui.card.card"], .ghx-issue, [data-issue-key]`

// Scanner finds cards in tracked columns. It keeps no state between scans;
// repeated events for the same card are expected and deduplicated downstream.
type Scanner struct {
	classifier   *Classifier
	cardSelector string
	log          zerolog.Logger
}

// NewScanner creates a scanner using the default card selector
func NewScanner(classifier *Classifier, log zerolog.Logger) *Scanner {
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Scanner{
		classifier:   classifier,
		cardSelector: CardSelector,
		log:          log.With().Str("component", "scanner").Logger(),
	}
}

// ParseHTML builds a document from raw board markup
func ParseHTML(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing board html: %w", err)
	}
	return doc, nil
}

// ParseHTMLString is ParseHTML for an in-memory document
func ParseHTMLString(s string) (*goquery.Document, error) {
	return ParseHTML(strings.NewReader(s))
}

// Cards returns every outermost card node in document order. A node matching
// the card predicate inside another card (an inner element carrying
// data-issue-key) belongs to the outer card.
func (s *Scanner) Cards(doc *goquery.Document) *goquery.Selection {
	return doc.Find(s.cardSelector).FilterFunction(func(_ int, card *goquery.Selection) bool {
		return card.ParentsFiltered(s.cardSelector).Length() == 0
	})
}

// Scan returns one event per card in a tracked column
func (s *Scanner) Scan(doc *goquery.Document) []domain.CardEvent {
	return s.ScanColumns(doc)
}

// ScanColumns is Scan limited to the given columns. No columns means all
// tracked columns.
func (s *Scanner) ScanColumns(doc *goquery.Document, only ...domain.Column) []domain.CardEvent {
	var events []domain.CardEvent
	s.Cards(doc).Each(func(i int, card *goquery.Selection) {
		snap, ok := s.classify(i, card)
		if !ok {
			return
		}
		ev, ok := snap.Event()
		if !ok {
			s.log.Debug().Str("issue", snap.IssueKey).Str("column", snap.ColumnLabel).Msg("card not in a tracked column")
			return
		}
		if len(only) > 0 && !containsColumn(only, ev.Column) {
			return
		}
		events = append(events, ev)
	})
	return events
}

// classify isolates failures to a single card
func (s *Scanner) classify(i int, card *goquery.Selection) (snap domain.CardSnapshot, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn().Int("card", i).Interface("panic", r).Msg("classifying card failed, skipping")
			snap, ok = domain.CardSnapshot{}, false
		}
	}()
	snap, ok = s.classifier.Classify(card)
	if !ok {
		s.log.Debug().Int("card", i).Msg("card has no issue key")
	}
	return snap, ok
}

func containsColumn(cols []domain.Column, c domain.Column) bool {
	for _, col := range cols {
		if col == c {
			return true
		}
	}
	return false
}
