package catalog

import (
	"strings"

	"github.com/gradienthealth/dicom/dicomtag"
)

// Record is one flat attribute set returned by an archive query, keyed by
// DICOM tag. A record carries string values only; numeric interpretation
// happens at the point of use.
type Record map[dicomtag.Tag]string

// Get returns the value for tag, or "" when the tag is absent.
func (r Record) Get(tag dicomtag.Tag) string {
	return r[tag]
}

// Has reports whether the record carries a non-empty value for tag.
func (r Record) Has(tag dicomtag.Tag) bool {
	return r[tag] != ""
}

// patientIDSeparator is the component separator of the legacy encoded
// "patientID^^^issuer" form.
const patientIDSeparator = "^^^"

// SplitPatientID splits the legacy encoded "patientID^^^issuer" form into its
// identifier and issuer parts. A plain identifier comes back with an empty
// issuer; an identifier with a separator but an empty issuer segment yields
// issuer == "" rather than an error.
func SplitPatientID(encoded string) (id, issuer string) {
	if i := strings.Index(encoded, patientIDSeparator); i >= 0 {
		return encoded[:i], encoded[i+len(patientIDSeparator):]
	}
	return encoded, ""
}

// normalizeName replaces DICOM person-name component separators with spaces
// and trims the result.
func normalizeName(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(name, "^", " "))
}

// normalizeSex maps the archive's patient-sex value onto {"M", "F", "O"}.
// An absent value stays absent.
func normalizeSex(sex string) string {
	switch {
	case sex == "":
		return ""
	case strings.HasPrefix(strings.ToUpper(sex), "M"):
		return "M"
	case strings.HasPrefix(strings.ToUpper(sex), "F"):
		return "F"
	default:
		return "O"
	}
}

// clampCompression bounds a compression quality to 0..100.
func clampCompression(rate int) int {
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}
