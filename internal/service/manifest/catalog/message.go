package catalog

// Severity grades a diagnostic message attached to a build result.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Message is one diagnostic produced while building a catalog. Messages ride
// along with the manifest so the viewer can surface them; they never abort
// the build.
type Message struct {
	Title    string
	Text     string
	Severity Severity
}
