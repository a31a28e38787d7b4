package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateTime(t *testing.T) {
	tm, ok := ParseDateTime("20210601", "134502")
	require.True(t, ok)
	assert.Equal(t, time.Date(2021, 6, 1, 13, 45, 2, 0, time.UTC), tm)

	tm, ok = ParseDateTime("20210601", "1345")
	require.True(t, ok)
	assert.Equal(t, 13, tm.Hour())

	tm, ok = ParseDateTime("20210601", "134502.123456")
	require.True(t, ok)
	assert.Equal(t, 2, tm.Second())

	_, ok = ParseDateTime("", "134502")
	assert.False(t, ok)

	_, ok = ParseDateTime("not-a-date", "")
	assert.False(t, ok)
}

func TestSortCanonical_StudyOrder(t *testing.T) {
	c := &Catalog{}
	p := c.UpsertPatient(Record{})
	p.Studies = []*Study{
		{InstanceUID: "4", Description: "B"},
		{InstanceUID: "1", Date: "20210101"},
		{InstanceUID: "3", Description: "A"},
		{InstanceUID: "2", Date: "20210601"},
	}

	c.SortCanonical()

	var uids []string
	for _, s := range p.Studies {
		uids = append(uids, s.InstanceUID)
	}
	// newest dated first, undated after all dated ordered by description.
	assert.Equal(t, []string{"2", "1", "3", "4"}, uids)
}

func TestSortCanonical_UndatedWithoutDescriptionLast(t *testing.T) {
	c := &Catalog{}
	p := c.UpsertPatient(Record{})
	p.Studies = []*Study{
		{InstanceUID: "b"},
		{InstanceUID: "a"},
		{InstanceUID: "c", Description: "Z"},
	}

	c.SortCanonical()

	assert.Equal(t, "c", p.Studies[0].InstanceUID)
	assert.Equal(t, "a", p.Studies[1].InstanceUID)
	assert.Equal(t, "b", p.Studies[2].InstanceUID)
}

func TestSortCanonical_PatientsByName(t *testing.T) {
	c := &Catalog{
		Patients: []*Patient{
			{ID: "2", Name: "ZULU ANNA"},
			{ID: "1", Name: "ALPHA BEN"},
		},
	}

	c.SortCanonical()

	assert.Equal(t, "1", c.Patients[0].ID)
}

func TestSortCanonical_SeriesAndInstanceNumbers(t *testing.T) {
	s := &Study{Series: []*Series{
		{InstanceUID: "s3", Number: "NaN"},
		{InstanceUID: "s2", Number: "10"},
		{InstanceUID: "s1", Number: "2"},
		{InstanceUID: "s0"},
	}}
	s.Series[2].Instances = []*Instance{
		{SOPInstanceUID: "i2", Number: "12"},
		{SOPInstanceUID: "i1", Number: "3"},
	}
	c := &Catalog{Patients: []*Patient{{Studies: []*Study{s}}}}

	c.SortCanonical()

	assert.Equal(t, "s1", s.Series[0].InstanceUID)
	assert.Equal(t, "s2", s.Series[1].InstanceUID)
	// non-numeric series numbers sort after numeric, by UID.
	assert.Equal(t, "s0", s.Series[2].InstanceUID)
	assert.Equal(t, "s3", s.Series[3].InstanceUID)

	assert.Equal(t, "i1", s.Series[0].Instances[0].SOPInstanceUID)
}

func TestSortCanonical_ExtremeSeriesNumbers(t *testing.T) {
	// values far enough apart that naive subtraction would wrap
	s := &Study{InstanceUID: "1", Series: []*Series{
		{InstanceUID: "big", Number: "9223372036854775807"},
		{InstanceUID: "neg", Number: "-2"},
	}}
	c := &Catalog{Patients: []*Patient{{ID: "P1", Studies: []*Study{s}}}}
	c.SortCanonical()

	assert.Equal(t, "neg", s.Series[0].InstanceUID)
	assert.Equal(t, "big", s.Series[1].InstanceUID)
}

func TestSortCanonical_Deterministic(t *testing.T) {
	build := func(order []int) *Catalog {
		studies := []*Study{
			{InstanceUID: "1", Date: "20210101", Time: "1200"},
			{InstanceUID: "2", Date: "20210101", Time: "1300"},
			{InstanceUID: "3"},
		}
		c := &Catalog{Patients: []*Patient{{Name: "DOE"}}}
		for _, i := range order {
			c.Patients[0].Studies = append(c.Patients[0].Studies, studies[i])
		}
		c.SortCanonical()
		return c
	}

	a := build([]int{0, 1, 2})
	b := build([]int{2, 1, 0})
	for i := range a.Patients[0].Studies {
		assert.Equal(t, a.Patients[0].Studies[i].InstanceUID, b.Patients[0].Studies[i].InstanceUID)
	}
}
