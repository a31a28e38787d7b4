package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/medviewer/pacs-connector/internal/service/manifest/catalog"

	"github.com/gradienthealth/dicom/dicomtag"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbQuerier answers level-scoped queries against a relational archive with a
// patient/study/series/instance schema. Every level query joins upward so the
// returned records carry the ancestor identifiers the descent needs.
type dbQuerier struct {
	pool *pgxpool.Pool
}

// NewDBQuery builds a QueryFunc over a pgx connection pool.
func NewDBQuery(pool *pgxpool.Pool) QueryFunc {
	q := &dbQuerier{pool: pool}
	return q.query
}

// levelQuery couples a SELECT with the tags of its projected columns (in
// column order) and the match keys it can constrain on.
type levelQuery struct {
	sql     string
	columns []dicomtag.Tag
	keyCols map[dicomtag.Tag]string
}

var studyQuery = levelQuery{
	sql: `SELECT COALESCE(p.patient_id, ''), COALESCE(p.issuer_of_patient_id, ''),
	COALESCE(p.patient_name, ''), COALESCE(p.patient_birth_date, ''),
	COALESCE(p.patient_birth_time, ''), COALESCE(p.patient_sex, ''),
	s.study_instance_uid, COALESCE(s.study_id, ''), COALESCE(s.study_description, ''),
	COALESCE(s.study_date, ''), COALESCE(s.study_time, ''),
	COALESCE(s.accession_number, ''), COALESCE(s.referring_physician, ''),
	COALESCE(s.modalities_in_study, '')
	FROM study s JOIN patient p ON p.pk = s.patient_fk`,
	columns: []dicomtag.Tag{
		dicomtag.PatientID, dicomtag.IssuerOfPatientID, dicomtag.PatientName,
		dicomtag.PatientBirthDate, dicomtag.PatientBirthTime, dicomtag.PatientSex,
		dicomtag.StudyInstanceUID, dicomtag.StudyID, dicomtag.StudyDescription,
		dicomtag.StudyDate, dicomtag.StudyTime, dicomtag.AccessionNumber,
		dicomtag.ReferringPhysicianName, dicomtag.ModalitiesInStudy,
	},
	keyCols: map[dicomtag.Tag]string{
		dicomtag.PatientID:         "p.patient_id",
		dicomtag.IssuerOfPatientID: "p.issuer_of_patient_id",
		dicomtag.StudyInstanceUID:  "s.study_instance_uid",
		dicomtag.AccessionNumber:   "s.accession_number",
	},
}

var seriesQuery = levelQuery{
	sql: `SELECT se.series_instance_uid, COALESCE(se.series_description, ''),
	COALESCE(se.modality, ''), COALESCE(se.series_number, ''),
	s.study_instance_uid, COALESCE(p.patient_id, ''), COALESCE(p.issuer_of_patient_id, '')
	FROM series se JOIN study s ON s.pk = se.study_fk JOIN patient p ON p.pk = s.patient_fk`,
	columns: []dicomtag.Tag{
		dicomtag.SeriesInstanceUID, dicomtag.SeriesDescription, dicomtag.Modality,
		dicomtag.SeriesNumber, dicomtag.StudyInstanceUID, dicomtag.PatientID,
		dicomtag.IssuerOfPatientID,
	},
	keyCols: map[dicomtag.Tag]string{
		dicomtag.StudyInstanceUID:  "s.study_instance_uid",
		dicomtag.SeriesInstanceUID: "se.series_instance_uid",
	},
}

var imageQuery = levelQuery{
	sql: `SELECT i.sop_instance_uid, COALESCE(i.instance_number, ''),
	se.series_instance_uid, s.study_instance_uid
	FROM instance i JOIN series se ON se.pk = i.series_fk JOIN study s ON s.pk = se.study_fk`,
	columns: []dicomtag.Tag{
		dicomtag.SOPInstanceUID, dicomtag.InstanceNumber,
		dicomtag.SeriesInstanceUID, dicomtag.StudyInstanceUID,
	},
	keyCols: map[dicomtag.Tag]string{
		dicomtag.StudyInstanceUID:  "s.study_instance_uid",
		dicomtag.SeriesInstanceUID: "se.series_instance_uid",
		dicomtag.SOPInstanceUID:    "i.sop_instance_uid",
	},
}

func (q *dbQuerier) query(ctx context.Context, level Level, keys []MatchKey) ([]catalog.Record, error) {
	var lq levelQuery
	switch level {
	case LevelPatient, LevelStudy:
		lq = studyQuery
	case LevelSeries:
		lq = seriesQuery
	case LevelImage:
		lq = imageQuery
	default:
		return nil, fmt.Errorf("db query: unsupported level %q", level)
	}

	sql, args, err := lq.where(keys)
	if err != nil {
		return nil, err
	}

	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("db query: %w", err)
	}
	defer rows.Close()

	var recs []catalog.Record
	dests := make([]any, len(lq.columns))
	values := make([]string, len(lq.columns))
	for i := range values {
		dests[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("db query: scan: %w", err)
		}
		rec := catalog.Record{}
		for i, tag := range lq.columns {
			if values[i] != "" {
				rec[tag] = values[i]
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db query: %w", err)
	}
	if recs == nil {
		recs = []catalog.Record{}
	}
	return recs, nil
}

func (lq levelQuery) where(keys []MatchKey) (string, []any, error) {
	if len(keys) == 0 {
		return "", nil, fmt.Errorf("db query: at least one match key required")
	}
	var clauses []string
	var args []any
	for _, k := range keys {
		col, ok := lq.keyCols[k.Tag]
		if !ok {
			return "", nil, fmt.Errorf("db query: unsupported match tag %s", k.Tag)
		}
		args = append(args, k.Value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	return lq.sql + " WHERE " + strings.Join(clauses, " AND "), args, nil
}
