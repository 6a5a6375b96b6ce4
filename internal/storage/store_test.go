package storage

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord() Record {
	return Record{
		BatchID:   "batch-1",
		CavityID:  2,
		Pressures: []float64{100, 200, 300},
		Angles:    []float64{0.5, 1.0, 1.5},
		Analogs:   []int16{10, 11, 12},
		Positions: []int16{1, 2, 3},
		Features: map[string]float64{
			"max": 300, "min": 100, "difference": 200,
			"average": 200, "variance": 6666.667, "trend_slope": 100, "cavity_id": 2,
		},
		Label:        1,
		Probability:  0.95,
		Confidence:   0.95,
		ModelVersion: "test-1",
		DurationS:    12.3456,
	}
}

func TestLogAndCount(t *testing.T) {
	s := openTestStore(t)

	id, err := s.LogRecord(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, int64(1), s.CountRecords())
}

func TestIDsStrictlyIncreasing(t *testing.T) {
	s := openTestStore(t)

	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.LogRecord(sampleRecord())
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestQueryRecordsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		r := sampleRecord()
		r.CavityID = i
		_, err := s.LogRecord(r)
		require.NoError(t, err)
	}

	records, err := s.QueryRecords(Filter{}, 100, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 2, records[0].CavityID)
	assert.Equal(t, 0, records[2].CavityID)
	assert.Greater(t, records[0].ID, records[1].ID)
}

func TestQueryRecordsFilters(t *testing.T) {
	s := openTestStore(t)

	leak := sampleRecord()
	leak.CavityID = 7
	leak.Label = 0
	_, err := s.LogRecord(leak)
	require.NoError(t, err)
	_, err = s.LogRecord(sampleRecord())
	require.NoError(t, err)

	cavity := 7
	records, err := s.QueryRecords(Filter{CavityID: &cavity}, 100, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 7, records[0].CavityID)

	label := 0
	records, err = s.QueryRecords(Filter{Label: &label}, 100, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Label)
	assert.Equal(t, 0, *records[0].Label)

	records, err = s.QueryRecords(Filter{StartTime: "2999-01-01T00:00:00"}, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQueryRecordsPagination(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.LogRecord(sampleRecord())
		require.NoError(t, err)
	}

	page, err := s.QueryRecords(Filter{}, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].ID)

	page, err = s.QueryRecords(Filter{}, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), page[0].ID)
}

func TestQueryRecordDetail(t *testing.T) {
	s := openTestStore(t)

	id, err := s.LogRecord(sampleRecord())
	require.NoError(t, err)

	d, err := s.QueryRecordDetail(id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.CavityID)
	assert.Equal(t, "batch-1", d.BatchID)
	assert.Equal(t, 3, d.PointCount)
	assert.Equal(t, 12.346, d.DurationS) // rounded to 3 decimals on insert

	var pressures []float64
	require.NoError(t, json.Unmarshal([]byte(d.PressureData), &pressures))
	assert.Equal(t, []float64{100, 200, 300}, pressures)

	var feats map[string]float64
	require.NoError(t, json.Unmarshal([]byte(d.Features), &feats))
	assert.Contains(t, feats, "trend_slope")
	assert.Equal(t, 2.0, feats["cavity_id"])
}

func TestQueryRecordDetailMissing(t *testing.T) {
	s := openTestStore(t)

	d, err := s.QueryRecordDetail(12345)
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestNullableSeries(t *testing.T) {
	s := openTestStore(t)

	r := sampleRecord()
	r.Angles = nil
	r.Analogs = nil
	r.Positions = nil
	id, err := s.LogRecord(r)
	require.NoError(t, err)

	d, err := s.QueryRecordDetail(id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Empty(t, d.AngleData)
	assert.Empty(t, d.AnalogData)
	assert.Empty(t, d.PositionData)
	assert.NotEmpty(t, d.PressureData)
}

func TestDBSizeMB(t *testing.T) {
	s := openTestStore(t)
	assert.Greater(t, s.DBSizeMB(), 0.0)
}
