// Package weasis renders a build's archive results into the XML manifest
// consumed by the Weasis viewer. Two schemas are supported: the current
// multi-archive manifest (namespace http://www.weasis.org/xsd/2.5) and the
// legacy single-archive wado_query document (namespace
// http://www.weasis.org/xsd), retained for older viewer releases.
//
// Rendering is deterministic: the catalog is walked depth-first in canonical
// order and attributes are emitted only when non-empty, so identical record
// sets always produce byte-identical documents.
package weasis

import (
	"encoding/xml"
	"fmt"

	"github.com/medviewer/pacs-connector/internal/service/manifest/adapters/archive"
	"github.com/medviewer/pacs-connector/internal/service/manifest/catalog"
)

const (
	// NamespaceCurrent is the schema of the multi-archive manifest.
	NamespaceCurrent = "http://www.weasis.org/xsd/2.5"
	// NamespaceLegacy is the schema of the single-archive wado_query document.
	NamespaceLegacy = "http://www.weasis.org/xsd"

	// Charset is the character encoding of every rendered document.
	Charset = "UTF-8"

	header = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"
)

// Version selects the rendered schema.
type Version string

const (
	VersionCurrent Version = "2.5"
	VersionLegacy  Version = "1"
)

// ParseVersion maps a request parameter onto a schema version. An empty
// value selects the current schema.
func ParseVersion(s string) (Version, error) {
	switch s {
	case "", "2.5":
		return VersionCurrent, nil
	case "1":
		return VersionLegacy, nil
	}
	return "", fmt.Errorf("unknown manifest version %q", s)
}

type manifestDoc struct {
	XMLName    xml.Name   `xml:"manifest"`
	Xmlns      string     `xml:"xmlns,attr"`
	ArcQueries []arcQuery `xml:"arcQuery"`
}

type arcQuery struct {
	ArcID    string      `xml:"arcId,attr"`
	BaseURL  string      `xml:"baseUrl,attr,omitempty"`
	Patients []patientEl `xml:"Patient"`
	Messages []messageEl `xml:"Message"`
}

type legacyDoc struct {
	XMLName                   xml.Name    `xml:"wado_query"`
	Xmlns                     string      `xml:"xmlns,attr"`
	WadoURL                   string      `xml:"wadoURL,attr,omitempty"`
	RequireOnlySOPInstanceUID bool        `xml:"requireOnlySOPInstanceUID,attr"`
	Patients                  []patientEl `xml:"Patient"`
	Messages                  []messageEl `xml:"Message"`
}

type patientEl struct {
	PatientID         string    `xml:"PatientID,attr"`
	IssuerOfPatientID string    `xml:"IssuerOfPatientID,attr,omitempty"`
	PatientName       string    `xml:"PatientName,attr,omitempty"`
	PatientBirthDate  string    `xml:"PatientBirthDate,attr,omitempty"`
	PatientBirthTime  string    `xml:"PatientBirthTime,attr,omitempty"`
	PatientSex        string    `xml:"PatientSex,attr,omitempty"`
	Studies           []studyEl `xml:"Study"`
}

type studyEl struct {
	StudyInstanceUID       string     `xml:"StudyInstanceUID,attr"`
	StudyID                string     `xml:"StudyID,attr,omitempty"`
	StudyDescription       string     `xml:"StudyDescription,attr,omitempty"`
	StudyDate              string     `xml:"StudyDate,attr,omitempty"`
	StudyTime              string     `xml:"StudyTime,attr,omitempty"`
	AccessionNumber        string     `xml:"AccessionNumber,attr,omitempty"`
	ReferringPhysicianName string     `xml:"ReferringPhysicianName,attr,omitempty"`
	Series                 []seriesEl `xml:"Series"`
}

type seriesEl struct {
	SeriesInstanceUID     string       `xml:"SeriesInstanceUID,attr"`
	SeriesDescription     string       `xml:"SeriesDescription,attr,omitempty"`
	SeriesNumber          string       `xml:"SeriesNumber,attr,omitempty"`
	Modality              string       `xml:"Modality,attr,omitempty"`
	WadoTransferSyntaxUID string       `xml:"WadoTransferSyntaxUID,attr,omitempty"`
	WadoCompressionRate   int          `xml:"WadoCompressionRate,attr,omitempty"`
	Instances             []instanceEl `xml:"Instance"`
}

type instanceEl struct {
	SOPInstanceUID string `xml:"SOPInstanceUID,attr"`
	InstanceNumber string `xml:"InstanceNumber,attr,omitempty"`
}

type messageEl struct {
	Title       string `xml:"title,attr"`
	Description string `xml:"description,attr"`
	Severity    string `xml:"severity,attr"`
}

// Render serializes the archive results into the requested schema version.
func Render(results []*archive.Result, version Version) ([]byte, error) {
	if version == VersionLegacy {
		return renderLegacy(results)
	}
	return renderCurrent(results)
}

func renderCurrent(results []*archive.Result) ([]byte, error) {
	doc := manifestDoc{Xmlns: NamespaceCurrent}
	for _, res := range results {
		res.Catalog.SortCanonical()
		doc.ArcQueries = append(doc.ArcQueries, arcQuery{
			ArcID:    res.ArcID,
			BaseURL:  res.WadoURL,
			Patients: patientElements(res.Catalog),
			Messages: messageElements(res.Messages),
		})
	}
	return marshal(doc)
}

// renderLegacy renders the single-archive wado_query document, accepting only
// the first archive's aggregate result.
func renderLegacy(results []*archive.Result) ([]byte, error) {
	doc := legacyDoc{Xmlns: NamespaceLegacy}
	if len(results) > 0 {
		res := results[0]
		res.Catalog.SortCanonical()
		doc.WadoURL = res.WadoURL
		doc.Patients = patientElements(res.Catalog)
		doc.Messages = messageElements(res.Messages)
	}
	return marshal(doc)
}

func marshal(doc any) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render manifest: %w", err)
	}
	return append([]byte(header), body...), nil
}

func patientElements(c *catalog.Catalog) []patientEl {
	var out []patientEl
	for _, p := range c.Patients {
		pe := patientEl{
			PatientID:         p.ID,
			IssuerOfPatientID: p.Issuer,
			PatientName:       p.Name,
			PatientBirthDate:  p.BirthDate,
			PatientBirthTime:  p.BirthTime,
			PatientSex:        p.Sex,
		}
		for _, s := range p.Studies {
			se := studyEl{
				StudyInstanceUID:       s.InstanceUID,
				StudyID:                s.ID,
				StudyDescription:       s.Description,
				StudyDate:              s.Date,
				StudyTime:              s.Time,
				AccessionNumber:        s.AccessionNumber,
				ReferringPhysicianName: s.ReferringPhysician,
			}
			for _, sr := range s.Series {
				sre := seriesEl{
					SeriesInstanceUID:     sr.InstanceUID,
					SeriesDescription:     sr.Description,
					SeriesNumber:          sr.Number,
					Modality:              sr.Modality,
					WadoTransferSyntaxUID: sr.TransferSyntaxUID,
					WadoCompressionRate:   sr.CompressionRate,
				}
				for _, in := range sr.Instances {
					sre.Instances = append(sre.Instances, instanceEl{
						SOPInstanceUID: in.SOPInstanceUID,
						InstanceNumber: in.Number,
					})
				}
				se.Series = append(se.Series, sre)
			}
			pe.Studies = append(pe.Studies, se)
		}
		out = append(out, pe)
	}
	return out
}

func messageElements(msgs []catalog.Message) []messageEl {
	var out []messageEl
	for _, m := range msgs {
		out = append(out, messageEl{
			Title:       m.Title,
			Description: m.Text,
			Severity:    string(m.Severity),
		})
	}
	return out
}
