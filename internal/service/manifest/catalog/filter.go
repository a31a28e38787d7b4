package catalog

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StudyFilter selects which studies survive a build. All filters act at study
// granularity, before the adapter descends to series and instances; a study
// must survive every active filter to be kept.
type StudyFilter struct {
	// LowerDateTime and UpperDateTime bound the study (date, time). A zero
	// bound is inactive. Studies with missing or unparseable dates are never
	// dropped by the window.
	LowerDateTime time.Time
	UpperDateTime time.Time

	// Modalities keeps studies whose ModalitiesInStudy attribute contains at
	// least one of the codes as a substring. Studies without the attribute
	// are never dropped.
	Modalities []string

	// Keywords keeps studies whose description contains at least one keyword,
	// case-insensitive and diacritics-stripped. OR semantics.
	Keywords []string

	// MostRecent truncates the surviving studies to the N most recent, after
	// every other filter and after canonical sort. Zero disables truncation.
	MostRecent int
}

// Apply drops studies failing the filter from the catalog and prunes patients
// emptied by the removal. The catalog must already be in canonical order so
// MostRecent sees the newest-first study ranking.
func (f StudyFilter) Apply(c *Catalog) {
	c.removeStudies(func(s *Study) bool { return !f.keep(s) })
	if f.MostRecent > 0 {
		f.truncate(c)
	}
}

func (f StudyFilter) keep(s *Study) bool {
	return f.inWindow(s) && f.matchesModality(s) && f.matchesKeyword(s)
}

func (f StudyFilter) inWindow(s *Study) bool {
	if f.LowerDateTime.IsZero() && f.UpperDateTime.IsZero() {
		return true
	}
	t, ok := ParseDateTime(s.Date, s.Time)
	if !ok {
		return true
	}
	if !f.UpperDateTime.IsZero() && t.After(f.UpperDateTime) {
		return false
	}
	if !f.LowerDateTime.IsZero() && t.Before(f.LowerDateTime) {
		return false
	}
	return true
}

func (f StudyFilter) matchesModality(s *Study) bool {
	if len(f.Modalities) == 0 || s.ModalitiesInStudy == "" {
		return true
	}
	for _, m := range f.Modalities {
		if m != "" && strings.Contains(s.ModalitiesInStudy, m) {
			return true
		}
	}
	return false
}

func (f StudyFilter) matchesKeyword(s *Study) bool {
	if len(f.Keywords) == 0 {
		return true
	}
	desc := foldText(s.Description)
	for _, kw := range f.Keywords {
		if kw != "" && strings.Contains(desc, foldText(kw)) {
			return true
		}
	}
	return false
}

// truncate keeps the first MostRecent studies in catalog study order and
// removes the rest. Studies are already sorted newest first within each
// patient; ranking across patients reuses the same comparator.
func (f StudyFilter) truncate(c *Catalog) {
	var all []*Study
	for _, p := range c.Patients {
		all = append(all, p.Studies...)
	}
	if len(all) <= f.MostRecent {
		return
	}
	sortStudiesGlobal(all)
	drop := make(map[*Study]bool, len(all)-f.MostRecent)
	for _, s := range all[f.MostRecent:] {
		drop[s] = true
	}
	c.removeStudies(func(s *Study) bool { return drop[s] })
}

// foldText lowercases and strips diacritical marks, so "Échographie"
// matches "echographie".
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}
