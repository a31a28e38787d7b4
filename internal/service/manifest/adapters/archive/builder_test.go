package archive

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/medviewer/pacs-connector/internal/service/manifest/catalog"

	"github.com/gradienthealth/dicom/dicomtag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore answers queries from a fixed record set, mimicking the
// level-by-level behavior of a real archive.
type fakeStore struct {
	studies   []catalog.Record
	series    []catalog.Record
	instances []catalog.Record
	calls     []Level
	fail      map[Level]error
}

func (f *fakeStore) query(ctx context.Context, level Level, keys []MatchKey) ([]catalog.Record, error) {
	f.calls = append(f.calls, level)
	if err := f.fail[level]; err != nil {
		return nil, err
	}
	var pool []catalog.Record
	switch level {
	case LevelStudy:
		pool = f.studies
	case LevelSeries:
		pool = f.series
	case LevelImage:
		pool = f.instances
	default:
		return nil, fmt.Errorf("unexpected level %q", level)
	}
	var out []catalog.Record
	for _, rec := range pool {
		if matches(rec, keys) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matches(rec catalog.Record, keys []MatchKey) bool {
	for _, k := range keys {
		if rec.Get(k.Tag) != k.Value {
			return false
		}
	}
	return true
}

func testStore() *fakeStore {
	return &fakeStore{
		studies: []catalog.Record{{
			dicomtag.PatientID:        "P1",
			dicomtag.PatientName:      "DOE^JANE",
			dicomtag.StudyInstanceUID: "st1",
			dicomtag.StudyDate:        "20210601",
			dicomtag.AccessionNumber:  "ACC1",
		}},
		series: []catalog.Record{{
			dicomtag.StudyInstanceUID:  "st1",
			dicomtag.SeriesInstanceUID: "se1",
			dicomtag.Modality:          "CT",
			dicomtag.SeriesNumber:      "1",
			dicomtag.PatientID:         "P1",
		}},
		instances: []catalog.Record{
			{
				dicomtag.StudyInstanceUID:  "st1",
				dicomtag.SeriesInstanceUID: "se1",
				dicomtag.SOPInstanceUID:    "i1",
				dicomtag.InstanceNumber:    "1",
			},
			{
				dicomtag.StudyInstanceUID:  "st1",
				dicomtag.SeriesInstanceUID: "se1",
				dicomtag.SOPInstanceUID:    "i2",
				dicomtag.InstanceNumber:    "2",
			},
		},
	}
}

func newTestArchive(store *fakeStore, filter catalog.StudyFilter) Archive {
	return New(&Backend{ID: "test", WadoURL: "http://wado", Query: store.query}, filter, nil)
}

func TestBuildFromPatientID_DescendsAllLevels(t *testing.T) {
	a := newTestArchive(testStore(), catalog.StudyFilter{})
	require.NoError(t, a.BuildFromPatientID(context.Background(), "P1"))

	res := a.Result()
	require.Len(t, res.Catalog.Patients, 1)
	p := res.Catalog.Patients[0]
	require.Len(t, p.Studies, 1)
	require.Len(t, p.Studies[0].Series, 1)
	assert.Len(t, p.Studies[0].Series[0].Instances, 2)
	assert.Empty(t, res.Messages)
}

func TestBuildFromPatientID_EncodedIssuer(t *testing.T) {
	store := testStore()
	store.studies[0][dicomtag.IssuerOfPatientID] = "HOSP-A"
	a := newTestArchive(store, catalog.StudyFilter{})

	require.NoError(t, a.BuildFromPatientID(context.Background(), "P1^^^HOSP-A"))

	res := a.Result()
	require.Len(t, res.Catalog.Patients, 1)
	assert.Equal(t, "HOSP-A", res.Catalog.Patients[0].Issuer)
}

func TestBuildFromStudyUID(t *testing.T) {
	a := newTestArchive(testStore(), catalog.StudyFilter{})
	require.NoError(t, a.BuildFromStudyUID(context.Background(), "st1"))
	assert.Equal(t, 2, a.Result().Catalog.InstanceCount())
}

func TestBuildFromAccessionNumber(t *testing.T) {
	a := newTestArchive(testStore(), catalog.StudyFilter{})
	require.NoError(t, a.BuildFromAccessionNumber(context.Background(), "ACC1"))
	assert.Equal(t, 2, a.Result().Catalog.InstanceCount())
}

func TestBuildFromSeriesUID_RecoversStudyAndPatient(t *testing.T) {
	store := testStore()
	// the series response lacks patient attributes: the builder must issue a
	// supplemental study-level query to place the record.
	delete(store.series[0], dicomtag.PatientID)
	a := newTestArchive(store, catalog.StudyFilter{})

	require.NoError(t, a.BuildFromSeriesUID(context.Background(), "se1"))

	res := a.Result()
	require.Len(t, res.Catalog.Patients, 1)
	assert.Equal(t, "P1", res.Catalog.Patients[0].ID)
	assert.Equal(t, 2, res.Catalog.InstanceCount())
	assert.Contains(t, store.calls, LevelStudy)
}

func TestBuildFromSeriesUID_MissingStudyIsStructuralError(t *testing.T) {
	store := testStore()
	delete(store.series[0], dicomtag.PatientID)
	delete(store.series[0], dicomtag.StudyInstanceUID)
	a := newTestArchive(store, catalog.StudyFilter{})

	require.NoError(t, a.BuildFromSeriesUID(context.Background(), "se1"))

	res := a.Result()
	assert.True(t, res.Catalog.IsEmpty())
	require.NotEmpty(t, res.Messages)
	assert.Equal(t, catalog.SeverityError, res.Messages[0].Severity)
}

func TestBuildFromSeriesUID_UnresolvableStudyIsStructuralError(t *testing.T) {
	store := testStore()
	delete(store.series[0], dicomtag.PatientID)
	store.studies = nil // supplemental study query returns nothing
	a := newTestArchive(store, catalog.StudyFilter{})

	require.NoError(t, a.BuildFromSeriesUID(context.Background(), "se1"))

	res := a.Result()
	assert.True(t, res.Catalog.IsEmpty())
	require.NotEmpty(t, res.Messages)
	assert.Equal(t, catalog.SeverityError, res.Messages[0].Severity)
}

func TestBuildFromInstanceUID_RecoversSeriesStudyPatient(t *testing.T) {
	store := testStore()
	delete(store.instances[0], dicomtag.StudyInstanceUID)
	delete(store.series[0], dicomtag.PatientID)
	a := newTestArchive(store, catalog.StudyFilter{})

	require.NoError(t, a.BuildFromInstanceUID(context.Background(), "i1"))

	res := a.Result()
	require.Len(t, res.Catalog.Patients, 1)
	assert.Equal(t, 1, res.Catalog.InstanceCount())
	// supplemental queries at the series and study levels
	assert.Contains(t, store.calls, LevelSeries)
	assert.Contains(t, store.calls, LevelStudy)
}

func TestBuildFromInstanceUID_MissingSeriesIsStructuralError(t *testing.T) {
	store := testStore()
	delete(store.instances[0], dicomtag.SeriesInstanceUID)
	a := newTestArchive(store, catalog.StudyFilter{})

	require.NoError(t, a.BuildFromInstanceUID(context.Background(), "i1"))

	res := a.Result()
	assert.True(t, res.Catalog.IsEmpty())
	require.NotEmpty(t, res.Messages)
}

func TestBuild_EmptyResultRecordsWarning(t *testing.T) {
	a := newTestArchive(&fakeStore{}, catalog.StudyFilter{})
	require.NoError(t, a.BuildFromPatientID(context.Background(), "NOBODY"))

	res := a.Result()
	assert.True(t, res.Catalog.IsEmpty())
	require.Len(t, res.Messages, 1)
	assert.Equal(t, catalog.SeverityWarn, res.Messages[0].Severity)
}

func TestBuild_BackendFailureBecomesDiagnostic(t *testing.T) {
	store := testStore()
	store.fail = map[Level]error{LevelStudy: errors.New("connection refused")}
	a := newTestArchive(store, catalog.StudyFilter{})

	require.NoError(t, a.BuildFromPatientID(context.Background(), "P1"))

	res := a.Result()
	require.Len(t, res.Messages, 1)
	assert.Equal(t, catalog.SeverityError, res.Messages[0].Severity)
}

func TestBuild_FailureOfOneLookupDoesNotAbortOthers(t *testing.T) {
	store := testStore()
	a := newTestArchive(store, catalog.StudyFilter{})

	require.NoError(t, a.BuildFromPatientID(context.Background(), "MISSING", "P1"))

	res := a.Result()
	assert.Equal(t, 2, res.Catalog.InstanceCount())
	require.Len(t, res.Messages, 1)
	assert.Equal(t, catalog.SeverityWarn, res.Messages[0].Severity)
}

func TestBuild_ContextCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := testStore()
	store.fail = map[Level]error{LevelStudy: context.Canceled}
	a := newTestArchive(store, catalog.StudyFilter{})

	err := a.BuildFromPatientID(ctx, "P1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_FilterAppliedBeforeDescent(t *testing.T) {
	store := testStore()
	a := newTestArchive(store, catalog.StudyFilter{Keywords: []string{"nothing"}})

	require.NoError(t, a.BuildFromPatientID(context.Background(), "P1"))

	res := a.Result()
	assert.True(t, res.Catalog.IsEmpty())
	// the series/image levels were never queried for the filtered-out study.
	assert.NotContains(t, store.calls, LevelSeries)
	assert.NotContains(t, store.calls, LevelImage)
}

func TestBuild_TransferHintStampedOnSeries(t *testing.T) {
	store := testStore()
	a := New(&Backend{
		ID:                "test",
		Query:             store.query,
		TransferSyntaxUID: "1.2.840.10008.1.2.4.91",
		CompressionRate:   180,
	}, catalog.StudyFilter{}, nil)

	require.NoError(t, a.BuildFromPatientID(context.Background(), "P1"))

	se := a.Result().Catalog.Patients[0].Studies[0].Series[0]
	assert.Equal(t, "1.2.840.10008.1.2.4.91", se.TransferSyntaxUID)
	assert.Equal(t, 100, se.CompressionRate)
}
