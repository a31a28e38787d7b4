// Package catalog holds the in-memory patient/study/series/instance tree
// assembled for one manifest build, together with the merge, filter and
// ordering rules that make its serialization deterministic.
//
// Ownership is strictly a tree: parents own their children, children never
// point back. Entities are created lazily the first time a query record
// references their identity and are removed only by filter-driven removal,
// which cascades and prunes emptied ancestors.
package catalog

import (
	"strconv"

	"github.com/gradienthealth/dicom/dicomtag"
)

// Catalog is the root of the entity tree for one build.
type Catalog struct {
	Patients []*Patient
}

// Patient is identified by its (ID, Issuer) pair. Two patients with absent
// issuers match only each other.
type Patient struct {
	ID     string
	Issuer string

	Name      string
	BirthDate string
	BirthTime string
	Sex       string

	Studies []*Study
}

// Study is identified by its StudyInstanceUID.
type Study struct {
	InstanceUID string

	ID                 string
	Description        string
	Date               string
	Time               string
	AccessionNumber    string
	ReferringPhysician string
	ModalitiesInStudy  string

	Series []*Series
}

// Series is identified by its SeriesInstanceUID. TransferSyntaxUID and
// CompressionRate form an optional transport hint for the viewer.
type Series struct {
	InstanceUID string

	Description       string
	Modality          string
	Number            string
	TransferSyntaxUID string
	CompressionRate   int

	Instances []*Instance
}

// Instance is identified by its SOPInstanceUID.
type Instance struct {
	SOPInstanceUID string
	Number         string
}

// UpsertPatient finds or creates the patient identified by the record's
// PatientID and IssuerOfPatientID. The identifier may carry the legacy
// encoded "patientID^^^issuer" form; an explicit IssuerOfPatientID attribute
// wins over the encoded suffix. Attributes of an existing patient are left
// untouched (first-write-wins).
func (c *Catalog) UpsertPatient(rec Record) *Patient {
	id, issuer := SplitPatientID(rec.Get(dicomtag.PatientID))
	if v := rec.Get(dicomtag.IssuerOfPatientID); v != "" {
		issuer = v
	}
	for _, p := range c.Patients {
		if p.ID == id && p.Issuer == issuer {
			return p
		}
	}
	p := &Patient{
		ID:        id,
		Issuer:    issuer,
		Name:      normalizeName(rec.Get(dicomtag.PatientName)),
		BirthDate: rec.Get(dicomtag.PatientBirthDate),
		BirthTime: rec.Get(dicomtag.PatientBirthTime),
		Sex:       normalizeSex(rec.Get(dicomtag.PatientSex)),
	}
	c.Patients = append(c.Patients, p)
	return p
}

// UpsertStudy finds or creates the study identified by the record's
// StudyInstanceUID under p.
func (p *Patient) UpsertStudy(rec Record) *Study {
	uid := rec.Get(dicomtag.StudyInstanceUID)
	for _, s := range p.Studies {
		if s.InstanceUID == uid {
			return s
		}
	}
	s := &Study{
		InstanceUID:        uid,
		ID:                 rec.Get(dicomtag.StudyID),
		Description:        rec.Get(dicomtag.StudyDescription),
		Date:               rec.Get(dicomtag.StudyDate),
		Time:               rec.Get(dicomtag.StudyTime),
		AccessionNumber:    rec.Get(dicomtag.AccessionNumber),
		ReferringPhysician: rec.Get(dicomtag.ReferringPhysicianName),
		ModalitiesInStudy:  rec.Get(dicomtag.ModalitiesInStudy),
	}
	p.Studies = append(p.Studies, s)
	return s
}

// UpsertSeries finds or creates the series identified by the record's
// SeriesInstanceUID under s.
func (s *Study) UpsertSeries(rec Record) *Series {
	uid := rec.Get(dicomtag.SeriesInstanceUID)
	for _, se := range s.Series {
		if se.InstanceUID == uid {
			return se
		}
	}
	se := &Series{
		InstanceUID: uid,
		Description: rec.Get(dicomtag.SeriesDescription),
		Modality:    rec.Get(dicomtag.Modality),
		Number:      rec.Get(dicomtag.SeriesNumber),
	}
	s.Series = append(s.Series, se)
	return se
}

// UpsertInstance finds or creates the instance identified by the record's
// SOPInstanceUID under se.
func (se *Series) UpsertInstance(rec Record) *Instance {
	uid := rec.Get(dicomtag.SOPInstanceUID)
	for _, in := range se.Instances {
		if in.SOPInstanceUID == uid {
			return in
		}
	}
	in := &Instance{
		SOPInstanceUID: uid,
		Number:         rec.Get(dicomtag.InstanceNumber),
	}
	se.Instances = append(se.Instances, in)
	return in
}

// SetTransferHint records the transport hint for the series, clamping the
// compression quality to 0..100.
func (se *Series) SetTransferHint(transferSyntaxUID string, rate int) {
	se.TransferSyntaxUID = transferSyntaxUID
	se.CompressionRate = clampCompression(rate)
}

// IsEmpty reports whether the catalog references no patients at all.
func (c *Catalog) IsEmpty() bool {
	return len(c.Patients) == 0
}

// Empty reports whether the series owns no instances.
func (se *Series) Empty() bool {
	return len(se.Instances) == 0
}

// Empty reports whether all of the study's series are empty.
func (s *Study) Empty() bool {
	for _, se := range s.Series {
		if !se.Empty() {
			return false
		}
	}
	return true
}

// Empty reports whether all of the patient's studies are empty.
func (p *Patient) Empty() bool {
	for _, s := range p.Studies {
		if !s.Empty() {
			return false
		}
	}
	return true
}

// InstanceCount returns the total number of instances in the catalog.
func (c *Catalog) InstanceCount() int {
	n := 0
	for _, p := range c.Patients {
		for _, s := range p.Studies {
			for _, se := range s.Series {
				n += len(se.Instances)
			}
		}
	}
	return n
}

// RemovePatientID removes the patient matching (id, issuer), including the
// legacy encoded form in id.
func (c *Catalog) RemovePatientID(encoded string) {
	id, issuer := SplitPatientID(encoded)
	kept := c.Patients[:0]
	for _, p := range c.Patients {
		if p.ID != id || p.Issuer != issuer {
			kept = append(kept, p)
		}
	}
	c.Patients = kept
}

// RemoveStudyUID removes the study with the given StudyInstanceUID wherever
// it appears, pruning patients emptied by the removal.
func (c *Catalog) RemoveStudyUID(uid string) {
	c.removeStudies(func(s *Study) bool { return s.InstanceUID == uid })
}

// RemoveAccessionNumber removes every study carrying the given accession
// number, pruning patients emptied by the removal.
func (c *Catalog) RemoveAccessionNumber(accession string) {
	c.removeStudies(func(s *Study) bool { return s.AccessionNumber == accession })
}

// RemoveSeriesUID removes the series with the given SeriesInstanceUID.
// A study left without series is removed from its patient, and a patient left
// without studies is removed from the catalog.
func (c *Catalog) RemoveSeriesUID(uid string) {
	for _, p := range c.Patients {
		for _, s := range p.Studies {
			kept := s.Series[:0]
			for _, se := range s.Series {
				if se.InstanceUID != uid {
					kept = append(kept, se)
				}
			}
			s.Series = kept
		}
	}
	c.removeStudies(func(s *Study) bool { return len(s.Series) == 0 })
}

// PruneEmpty removes series left without instances, studies thereby left
// empty, and patients left without studies, typically after a filtered
// removal or a descent that produced no children.
func (c *Catalog) PruneEmpty() {
	for _, p := range c.Patients {
		for _, s := range p.Studies {
			kept := s.Series[:0]
			for _, se := range s.Series {
				if !se.Empty() {
					kept = append(kept, se)
				}
			}
			s.Series = kept
		}
	}
	c.removeStudies(func(s *Study) bool { return len(s.Series) == 0 })
}

// removeStudies drops every study matching drop and prunes patients that end
// up with no studies.
func (c *Catalog) removeStudies(drop func(*Study) bool) {
	keptPatients := c.Patients[:0]
	for _, p := range c.Patients {
		kept := p.Studies[:0]
		for _, s := range p.Studies {
			if !drop(s) {
				kept = append(kept, s)
			}
		}
		p.Studies = kept
		if len(p.Studies) > 0 {
			keptPatients = append(keptPatients, p)
		}
	}
	c.Patients = keptPatients
}

// parseNumber parses a numeric ordering attribute such as SeriesNumber or
// InstanceNumber. Leading/trailing spaces are tolerated; anything else
// non-numeric reports ok == false.
func parseNumber(s string) (n int, ok bool) {
	v, err := strconv.Atoi(trimSpaces(s))
	if err != nil {
		return 0, false
	}
	return v, true
}

func trimSpaces(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}
