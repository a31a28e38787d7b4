package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medviewer/pacs-connector/internal/service/manifest/catalog"

	"github.com/gradienthealth/dicom/dicomtag"
)

// builder runs the level-by-level descent for one backend against one
// catalog root. It is used by a single build job and is not safe for
// concurrent use.
type builder struct {
	backend *Backend
	filter  catalog.StudyFilter
	root    *catalog.Catalog
	msgs    []catalog.Message
	log     *slog.Logger
}

func (b *builder) ID() string { return b.backend.ID }

func (b *builder) Result() *Result {
	return &Result{
		ArcID:    b.backend.ID,
		WadoURL:  b.backend.WadoURL,
		Catalog:  b.root,
		Messages: b.msgs,
	}
}

// BuildFromPatientID queries the study level for each patient identifier,
// which may carry the legacy encoded "patientID^^^issuer" form.
func (b *builder) BuildFromPatientID(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		pid, issuer := catalog.SplitPatientID(id)
		keys := []MatchKey{{Tag: dicomtag.PatientID, Value: pid}}
		if issuer != "" {
			keys = append(keys, MatchKey{Tag: dicomtag.IssuerOfPatientID, Value: issuer})
		}
		if err := b.seedStudies(ctx, "patient "+id, keys); err != nil {
			return err
		}
	}
	return b.descend(ctx)
}

// BuildFromStudyUID queries the study level for each study UID.
func (b *builder) BuildFromStudyUID(ctx context.Context, uids ...string) error {
	for _, uid := range uids {
		keys := []MatchKey{{Tag: dicomtag.StudyInstanceUID, Value: uid}}
		if err := b.seedStudies(ctx, "study "+uid, keys); err != nil {
			return err
		}
	}
	return b.descend(ctx)
}

// BuildFromAccessionNumber queries the study level for each accession number.
func (b *builder) BuildFromAccessionNumber(ctx context.Context, numbers ...string) error {
	for _, number := range numbers {
		keys := []MatchKey{{Tag: dicomtag.AccessionNumber, Value: number}}
		if err := b.seedStudies(ctx, "accession number "+number, keys); err != nil {
			return err
		}
	}
	return b.descend(ctx)
}

// BuildFromSeriesUID queries the series level for each series UID. Records
// lacking patient or study attributes trigger a supplemental study-level
// query before the series can be placed in the hierarchy.
func (b *builder) BuildFromSeriesUID(ctx context.Context, uids ...string) error {
	for _, uid := range uids {
		recs, err := b.query(ctx, LevelSeries, []MatchKey{{Tag: dicomtag.SeriesInstanceUID, Value: uid}})
		if err != nil {
			return err
		}
		if recs == nil {
			continue // diagnostic already recorded
		}
		if len(recs) == 0 {
			b.addMessage(catalog.SeverityWarn, "Series not found",
				fmt.Sprintf("no series found for series UID %s", uid))
			continue
		}
		for _, rec := range recs {
			study, err := b.placeStudyForSeries(ctx, rec)
			if err != nil {
				return err
			}
			if study == nil {
				continue
			}
			se := study.UpsertSeries(rec)
			b.applyTransferHint(se)
		}
	}
	b.applyStudyFilter()
	// Fill instances only for the requested series; a series-seeded build
	// never widens to the study's other series.
	for _, p := range b.root.Patients {
		for _, s := range p.Studies {
			for _, se := range s.Series {
				if err := b.fillInstances(ctx, s, se); err != nil {
					return err
				}
			}
		}
	}
	b.root.PruneEmpty()
	return nil
}

// BuildFromInstanceUID queries the image level for each SOP instance UID.
// Records lacking the owning series identifier fail with a structural error;
// records lacking study or patient attributes are recovered through
// supplemental series- and study-level queries.
func (b *builder) BuildFromInstanceUID(ctx context.Context, uids ...string) error {
	for _, uid := range uids {
		recs, err := b.query(ctx, LevelImage, []MatchKey{{Tag: dicomtag.SOPInstanceUID, Value: uid}})
		if err != nil {
			return err
		}
		if recs == nil {
			continue
		}
		if len(recs) == 0 {
			b.addMessage(catalog.SeverityWarn, "Instance not found",
				fmt.Sprintf("no instance found for SOP instance UID %s", uid))
			continue
		}
		for _, rec := range recs {
			se, err := b.placeSeriesForInstance(ctx, rec)
			if err != nil {
				return err
			}
			if se == nil {
				continue
			}
			se.UpsertInstance(rec)
		}
	}
	b.applyStudyFilter()
	b.root.PruneEmpty()
	return nil
}

// seedStudies runs one study-level query, upserts patients and studies from
// the response, and applies the study filter so the descent only visits
// surviving studies.
func (b *builder) seedStudies(ctx context.Context, subject string, keys []MatchKey) error {
	recs, err := b.query(ctx, LevelStudy, keys)
	if err != nil {
		return err
	}
	if recs == nil {
		return nil
	}
	if len(recs) == 0 {
		b.addMessage(catalog.SeverityWarn, "No study found",
			fmt.Sprintf("no study found for %s", subject))
		return nil
	}
	for _, rec := range recs {
		b.root.UpsertPatient(rec).UpsertStudy(rec)
	}
	b.applyStudyFilter()
	return nil
}

// descend fills series and instances for every surviving study that has no
// children yet, pruning studies that end up empty.
func (b *builder) descend(ctx context.Context) error {
	for _, p := range b.root.Patients {
		for _, s := range p.Studies {
			if len(s.Series) > 0 {
				continue
			}
			if err := b.descendStudy(ctx, s); err != nil {
				return err
			}
		}
	}
	b.root.PruneEmpty()
	return nil
}

func (b *builder) descendStudy(ctx context.Context, s *catalog.Study) error {
	recs, err := b.query(ctx, LevelSeries, []MatchKey{{Tag: dicomtag.StudyInstanceUID, Value: s.InstanceUID}})
	if err != nil || recs == nil {
		return err
	}
	for _, rec := range recs {
		se := s.UpsertSeries(rec)
		b.applyTransferHint(se)
	}
	for _, se := range s.Series {
		if err := b.fillInstances(ctx, s, se); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) fillInstances(ctx context.Context, s *catalog.Study, se *catalog.Series) error {
	if len(se.Instances) > 0 {
		return nil
	}
	recs, err := b.query(ctx, LevelImage, []MatchKey{
		{Tag: dicomtag.StudyInstanceUID, Value: s.InstanceUID},
		{Tag: dicomtag.SeriesInstanceUID, Value: se.InstanceUID},
	})
	if err != nil || recs == nil {
		return err
	}
	for _, rec := range recs {
		se.UpsertInstance(rec)
	}
	return nil
}

// placeStudyForSeries locates or recovers the study owning a series-level
// record. A record without a study UID cannot be placed at all; a record
// whose study attributes are incomplete is completed through a supplemental
// study-level query. Returns (nil, nil) when the record failed structurally.
func (b *builder) placeStudyForSeries(ctx context.Context, rec catalog.Record) (*catalog.Study, error) {
	studyUID := rec.Get(dicomtag.StudyInstanceUID)
	if studyUID == "" {
		b.structural(fmt.Sprintf("series record %s carries no study UID", rec.Get(dicomtag.SeriesInstanceUID)))
		return nil, nil
	}
	seed := rec
	if !rec.Has(dicomtag.PatientID) {
		recs, err := b.query(ctx, LevelStudy, []MatchKey{{Tag: dicomtag.StudyInstanceUID, Value: studyUID}})
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			b.structural(fmt.Sprintf("study %s could not be resolved for series %s",
				studyUID, rec.Get(dicomtag.SeriesInstanceUID)))
			return nil, nil
		}
		seed = recs[0]
	}
	return b.root.UpsertPatient(seed).UpsertStudy(seed), nil
}

// placeSeriesForInstance locates or recovers the series owning an image-level
// record, recovering missing ancestors level by level.
func (b *builder) placeSeriesForInstance(ctx context.Context, rec catalog.Record) (*catalog.Series, error) {
	seriesUID := rec.Get(dicomtag.SeriesInstanceUID)
	if seriesUID == "" {
		b.structural(fmt.Sprintf("instance record %s carries no series UID", rec.Get(dicomtag.SOPInstanceUID)))
		return nil, nil
	}
	seriesRec := rec
	if !rec.Has(dicomtag.StudyInstanceUID) {
		recs, err := b.query(ctx, LevelSeries, []MatchKey{{Tag: dicomtag.SeriesInstanceUID, Value: seriesUID}})
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			b.structural(fmt.Sprintf("series %s could not be resolved for instance %s",
				seriesUID, rec.Get(dicomtag.SOPInstanceUID)))
			return nil, nil
		}
		seriesRec = recs[0]
	}
	study, err := b.placeStudyForSeries(ctx, seriesRec)
	if err != nil || study == nil {
		return nil, err
	}
	se := study.UpsertSeries(seriesRec)
	b.applyTransferHint(se)
	return se, nil
}

// query wraps the backend query with the adapter's error policy: a context
// error aborts the build, any other backend failure becomes an ERROR
// diagnostic and reports nil records so the caller skips that lookup.
func (b *builder) query(ctx context.Context, level Level, keys []MatchKey) ([]catalog.Record, error) {
	recs, err := b.backend.Query(ctx, level, keys)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.log.Error("archive query failed", "level", string(level), "error", err)
		b.addMessage(catalog.SeverityError, "Archive query failed",
			fmt.Sprintf("%s level query failed: %v", level, err))
		return nil, nil
	}
	if recs == nil {
		recs = []catalog.Record{}
	}
	return recs, nil
}

func (b *builder) applyStudyFilter() {
	b.root.SortCanonical()
	b.filter.Apply(b.root)
}

func (b *builder) applyTransferHint(se *catalog.Series) {
	if b.backend.TransferSyntaxUID != "" && se.TransferSyntaxUID == "" {
		se.SetTransferHint(b.backend.TransferSyntaxUID, b.backend.CompressionRate)
	}
}

func (b *builder) structural(detail string) {
	b.log.Warn("record cannot be placed in the hierarchy", "detail", detail)
	b.addMessage(catalog.SeverityError, "Unresolvable record", detail)
}

func (b *builder) addMessage(sev catalog.Severity, title, text string) {
	b.msgs = append(b.msgs, catalog.Message{Title: title, Text: text, Severity: sev})
}
