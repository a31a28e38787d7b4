package archive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gradienthealth/dicom/dicomtag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQIDOQuery_StudyLevel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies", r.URL.Path)
		assert.Equal(t, "P1", r.URL.Query().Get("PatientID"))
		assert.Equal(t, "all", r.URL.Query().Get("includefield"))
		assert.Equal(t, "application/dicom+json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/dicom+json")
		w.Write([]byte(`[{
			"00100010": {"vr": "PN", "Value": [{"Alphabetic": "DOE^JANE"}]},
			"00100020": {"vr": "LO", "Value": ["P1"]},
			"0020000D": {"vr": "UI", "Value": ["1.2.3"]},
			"00080061": {"vr": "CS", "Value": ["CT", "SR"]},
			"00201208": {"vr": "IS", "Value": [42]}
		}]`))
	}))
	defer srv.Close()

	q := NewQIDOQuery(srv.URL, "", srv.Client())
	recs, err := q(context.Background(), LevelStudy, []MatchKey{{Tag: dicomtag.PatientID, Value: "P1"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "DOE^JANE", rec.Get(dicomtag.PatientName))
	assert.Equal(t, "1.2.3", rec.Get(dicomtag.StudyInstanceUID))
	assert.Equal(t, `CT\SR`, rec.Get(dicomtag.ModalitiesInStudy))
	assert.Equal(t, "42", rec.Get(dicomtag.NumberOfStudyRelatedInstances))
}

func TestQIDOQuery_HierarchyPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	q := NewQIDOQuery(srv.URL, "", srv.Client())

	_, err := q(context.Background(), LevelSeries, []MatchKey{{Tag: dicomtag.StudyInstanceUID, Value: "1.2.3"}})
	require.NoError(t, err)
	_, err = q(context.Background(), LevelImage, []MatchKey{
		{Tag: dicomtag.StudyInstanceUID, Value: "1.2.3"},
		{Tag: dicomtag.SeriesInstanceUID, Value: "1.2.3.1"},
	})
	require.NoError(t, err)
	_, err = q(context.Background(), LevelImage, []MatchKey{{Tag: dicomtag.SOPInstanceUID, Value: "1.2.3.1.1"}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/studies/1.2.3/series",
		"/studies/1.2.3/series/1.2.3.1/instances",
		"/instances",
	}, paths)
}

func TestQIDOQuery_NoContentMeansEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	q := NewQIDOQuery(srv.URL, "", srv.Client())
	recs, err := q(context.Background(), LevelStudy, []MatchKey{{Tag: dicomtag.PatientID, Value: "P1"}})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NotNil(t, recs)
}

func TestQIDOQuery_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	q := NewQIDOQuery(srv.URL, "", srv.Client())
	_, err := q(context.Background(), LevelStudy, []MatchKey{{Tag: dicomtag.PatientID, Value: "P1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestQIDOQuery_AuthHeaderForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	q := NewQIDOQuery(srv.URL, "Bearer token", srv.Client())
	_, err := q(context.Background(), LevelStudy, []MatchKey{{Tag: dicomtag.PatientID, Value: "P1"}})
	require.NoError(t, err)
}

func TestParseTagKey(t *testing.T) {
	tag, ok := parseTagKey("0020000D")
	require.True(t, ok)
	assert.Equal(t, dicomtag.StudyInstanceUID, tag)

	_, ok = parseTagKey("nope")
	assert.False(t, ok)
}
