package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/medviewer/pacs-connector/internal/service/manifest/catalog"

	"github.com/gradienthealth/dicom/dicomtag"
)

// qidoQuerier answers level-scoped queries over a DICOMweb QIDO-RS endpoint.
// Responses use the DICOM JSON model (PS3.18 F.2): an array of objects keyed
// by "GGGGEEEE" hex tags, each holding a vr and a Value array.
type qidoQuerier struct {
	baseURL    string
	authHeader string
	client     *http.Client
}

// NewQIDOQuery builds a QueryFunc over a QIDO-RS search endpoint. authHeader,
// when non-empty, is sent verbatim as the Authorization header.
func NewQIDOQuery(baseURL, authHeader string, client *http.Client) QueryFunc {
	if client == nil {
		client = http.DefaultClient
	}
	q := &qidoQuerier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: authHeader,
		client:     client,
	}
	return q.query
}

func (q *qidoQuerier) query(ctx context.Context, level Level, keys []MatchKey) ([]catalog.Record, error) {
	target, err := q.buildURL(level, keys)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dicom+json")
	if q.authHeader != "" {
		req.Header.Set("Authorization", q.authHeader)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qido query: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return []catalog.Record{}, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("qido query: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw []map[string]qidoAttribute
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("qido query: decode response: %w", err)
	}

	recs := make([]catalog.Record, 0, len(raw))
	for _, attrs := range raw {
		recs = append(recs, recordFromJSON(attrs))
	}
	return recs, nil
}

// buildURL maps a level and its match keys onto the QIDO search resource.
// Study and series UID constraints become path segments when present, so the
// hierarchy resources (/studies/{uid}/series, .../instances) are used
// whenever the caller supplies them.
func (q *qidoQuerier) buildURL(level Level, keys []MatchKey) (string, error) {
	var studyUID, seriesUID string
	params := url.Values{}
	for _, k := range keys {
		switch k.Tag {
		case dicomtag.StudyInstanceUID:
			studyUID = k.Value
		case dicomtag.SeriesInstanceUID:
			seriesUID = k.Value
		default:
			info, err := dicomtag.Find(k.Tag)
			if err != nil {
				return "", fmt.Errorf("qido query: unknown match tag %s", k.Tag)
			}
			params.Set(info.Name, k.Value)
		}
	}

	var path string
	switch level {
	case LevelPatient, LevelStudy:
		path = "/studies"
		if studyUID != "" {
			params.Set("StudyInstanceUID", studyUID)
		}
	case LevelSeries:
		if studyUID != "" {
			path = "/studies/" + url.PathEscape(studyUID) + "/series"
		} else {
			path = "/series"
		}
		if seriesUID != "" {
			params.Set("SeriesInstanceUID", seriesUID)
		}
	case LevelImage:
		switch {
		case studyUID != "" && seriesUID != "":
			path = "/studies/" + url.PathEscape(studyUID) + "/series/" + url.PathEscape(seriesUID) + "/instances"
		default:
			path = "/instances"
			if studyUID != "" {
				params.Set("StudyInstanceUID", studyUID)
			}
			if seriesUID != "" {
				params.Set("SeriesInstanceUID", seriesUID)
			}
		}
	default:
		return "", fmt.Errorf("qido query: unsupported level %q", level)
	}

	params.Set("includefield", "all")
	return q.baseURL + path + "?" + params.Encode(), nil
}

// qidoAttribute is one attribute of the DICOM JSON model.
type qidoAttribute struct {
	VR    string            `json:"vr"`
	Value []json.RawMessage `json:"Value"`
}

// recordFromJSON flattens a DICOM JSON object into a tag-keyed record.
// Multi-valued attributes are joined with the DICOM value separator.
func recordFromJSON(attrs map[string]qidoAttribute) catalog.Record {
	rec := catalog.Record{}
	for key, attr := range attrs {
		tag, ok := parseTagKey(key)
		if !ok || len(attr.Value) == 0 {
			continue
		}
		values := make([]string, 0, len(attr.Value))
		for _, raw := range attr.Value {
			if v := decodeValue(raw); v != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			rec[tag] = strings.Join(values, "\\")
		}
	}
	return rec
}

// parseTagKey parses a "GGGGEEEE" hex key into a tag.
func parseTagKey(key string) (dicomtag.Tag, bool) {
	if len(key) != 8 {
		return dicomtag.Tag{}, false
	}
	group, err := strconv.ParseUint(key[:4], 16, 16)
	if err != nil {
		return dicomtag.Tag{}, false
	}
	elem, err := strconv.ParseUint(key[4:], 16, 16)
	if err != nil {
		return dicomtag.Tag{}, false
	}
	return dicomtag.Tag{Group: uint16(group), Element: uint16(elem)}, true
}

// decodeValue renders one JSON model value as a string. Person names arrive
// as {"Alphabetic": "..."} objects, numbers as JSON numbers, the rest as
// strings.
func decodeValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var pn struct {
		Alphabetic string `json:"Alphabetic"`
	}
	if err := json.Unmarshal(raw, &pn); err == nil && pn.Alphabetic != "" {
		return pn.Alphabetic
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
