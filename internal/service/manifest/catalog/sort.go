package catalog

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DICOM DA / DA+TM layouts.
const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102150405"
)

// ParseDateTime combines a DICOM date (DA) and time (TM) value into a
// time.Time. Fractional seconds and short time values are tolerated; an
// unparseable or missing date reports ok == false.
func ParseDateTime(date, tm string) (t time.Time, ok bool) {
	date = trimSpaces(date)
	if date == "" {
		return time.Time{}, false
	}
	tm = trimSpaces(tm)
	if i := strings.IndexByte(tm, '.'); i >= 0 {
		tm = tm[:i]
	}
	// TM allows HH, HHMM and HHMMSS.
	if len(tm) > 6 {
		tm = tm[:6]
	}
	for len(tm) > 0 && len(tm) < 6 {
		tm += "0"
	}
	if tm == "" {
		t, err := time.Parse(dateLayout, date)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	t, err := time.Parse(dateTimeLayout, date+tm)
	if err != nil {
		// Fall back to the date alone when the time part is garbage.
		t, err = time.Parse(dateLayout, date)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t, true
}

// SortCanonical orders the whole tree into its canonical serialization order:
// patients ascending by collated name; studies most recent first with undated
// studies after dated ones; series and instances ascending by parsed number
// with non-numeric numbers last. The ordering is total, so two catalogs built
// from the same record set always serialize identically.
func (c *Catalog) SortCanonical() {
	col := collate.New(language.Und)
	slices.SortStableFunc(c.Patients, func(a, b *Patient) int {
		return col.CompareString(a.Name, b.Name)
	})
	for _, p := range c.Patients {
		slices.SortStableFunc(p.Studies, func(a, b *Study) int {
			return compareStudies(col, a, b)
		})
		for _, s := range p.Studies {
			slices.SortStableFunc(s.Series, func(a, b *Series) int {
				return compareNumbered(a.Number, a.InstanceUID, b.Number, b.InstanceUID)
			})
			for _, se := range s.Series {
				slices.SortStableFunc(se.Instances, func(a, b *Instance) int {
					return compareNumbered(a.Number, a.SOPInstanceUID, b.Number, b.SOPInstanceUID)
				})
			}
		}
	}
}

// sortStudiesGlobal ranks studies across patients with the same comparator
// used within a patient, for most-recent truncation.
func sortStudiesGlobal(studies []*Study) {
	col := collate.New(language.Und)
	slices.SortStableFunc(studies, func(a, b *Study) int {
		return compareStudies(col, a, b)
	})
}

// compareStudies orders two studies: dated before undated, newer dates first,
// undated studies by description (studies without a description after those
// with one), and study UID as the final tie-break.
func compareStudies(col *collate.Collator, a, b *Study) int {
	ta, aOK := ParseDateTime(a.Date, a.Time)
	tb, bOK := ParseDateTime(b.Date, b.Time)
	switch {
	case aOK && bOK:
		if !ta.Equal(tb) {
			if ta.After(tb) {
				return -1
			}
			return 1
		}
	case aOK:
		return -1
	case bOK:
		return 1
	default:
		if v := compareDescriptions(col, a.Description, b.Description); v != 0 {
			return v
		}
	}
	return strings.Compare(a.InstanceUID, b.InstanceUID)
}

func compareDescriptions(col *collate.Collator, a, b string) int {
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	return col.CompareString(a, b)
}

// compareNumbered orders by parsed integer number, non-numeric after numeric,
// with lexicographic UID as tie-break.
func compareNumbered(numA, uidA, numB, uidB string) int {
	na, aOK := parseNumber(numA)
	nb, bOK := parseNumber(numB)
	switch {
	case aOK && bOK:
		if v := cmp.Compare(na, nb); v != 0 {
			return v
		}
	case aOK:
		return -1
	case bOK:
		return 1
	}
	return strings.Compare(uidA, uidB)
}
