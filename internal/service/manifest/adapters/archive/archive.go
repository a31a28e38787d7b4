// Package archive populates a catalog from a configured backend, either a
// DICOMweb (QIDO-RS) endpoint or a relational database. Both variants answer
// the same level-scoped query contract; the descent logic that turns flat
// query records into the patient/study/series/instance tree is shared.
package archive

import (
	"context"
	"log/slog"

	"github.com/medviewer/pacs-connector/internal/service/manifest/catalog"

	"github.com/gradienthealth/dicom/dicomtag"
)

// Level scopes a query to one tier of the hierarchy.
type Level string

const (
	LevelPatient Level = "PATIENT"
	LevelStudy   Level = "STUDY"
	LevelSeries  Level = "SERIES"
	LevelImage   Level = "IMAGE"
)

// MatchKey is one exact-match constraint of a query.
type MatchKey struct {
	Tag   dicomtag.Tag
	Value string
}

// QueryFunc answers one level-scoped query against a backend, returning flat
// attribute records. Implementations must be safe for concurrent use.
type QueryFunc func(ctx context.Context, level Level, keys []MatchKey) ([]catalog.Record, error)

// Backend is one configured archive: an identifier for the manifest, the
// retrieval URL handed to the viewer, the query function, and an optional
// transport hint stamped onto every series.
type Backend struct {
	ID      string
	WadoURL string
	Query   QueryFunc

	TransferSyntaxUID string
	CompressionRate   int
}

// Result is the aggregate outcome of running one archive within a build:
// the populated catalog plus any diagnostics collected along the way.
type Result struct {
	ArcID    string
	WadoURL  string
	Catalog  *catalog.Catalog
	Messages []catalog.Message
}

// Archive builds a catalog from lookup keys. All five operations populate the
// archive's own catalog root; lookup failures become diagnostics on the
// result and never abort sibling lookups. The returned error is non-nil only
// when the context is done.
type Archive interface {
	ID() string
	BuildFromPatientID(ctx context.Context, ids ...string) error
	BuildFromStudyUID(ctx context.Context, uids ...string) error
	BuildFromAccessionNumber(ctx context.Context, numbers ...string) error
	BuildFromSeriesUID(ctx context.Context, uids ...string) error
	BuildFromInstanceUID(ctx context.Context, uids ...string) error
	Result() *Result
}

// New binds a backend to a fresh catalog root for one build. The filter is
// applied at study granularity before the builder descends to series and
// instances.
func New(b *Backend, filter catalog.StudyFilter, log *slog.Logger) Archive {
	if log == nil {
		log = slog.Default()
	}
	return &builder{
		backend: b,
		filter:  filter,
		root:    &catalog.Catalog{},
		log:     log.With("archive", b.ID),
	}
}
