package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tailfin/flightetl/pkg/etl/core/model"
)

func TestParseFlightStatus(t *testing.T) {
	testCases := []struct {
		raw  string
		want model.FlightStatus
	}{
		{"SCHEDULED", model.StatusScheduled},
		{"scheduled", model.StatusScheduled},
		{"  Landed ", model.StatusLanded},
		{"ARRIVED", model.StatusLanded},
		{"EN-ROUTE", model.StatusActive},
		{"AIRBORNE", model.StatusActive},
		{"CANCELED", model.StatusCancelled},
		{"CANCELLED", model.StatusCancelled},
		{"DIVERTED", model.StatusDiverted},
		{"TAXIING", model.StatusUnknown},
		{"", model.StatusUnknown},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, model.ParseFlightStatus(tc.raw), "raw=%q", tc.raw)
	}
}

func TestRawFlightRecord_FieldsIncludesExtras(t *testing.T) {
	raw := &model.RawFlightRecord{
		FlightID: "AA123",
		Origin:   "JFK",
		Extra:    map[string]string{"tail_number": "N12345"},
	}
	fields := raw.Fields()
	assert.Equal(t, "AA123", fields["flight_id"])
	assert.Equal(t, "JFK", fields["origin"])
	assert.Equal(t, "N12345", fields["tail_number"])
}

func TestNormalizedFlightRecord_NaturalKey(t *testing.T) {
	rec := &model.NormalizedFlightRecord{
		FlightID:               "AA123",
		ScheduledDepartureDate: "2026-03-01",
	}
	assert.Equal(t, "AA123|2026-03-01", rec.NaturalKey())
}

func TestNormalizedFlightRecord_PartitionKeyStable(t *testing.T) {
	rec := &model.NormalizedFlightRecord{
		FlightID:               "AA123",
		ScheduledDepartureDate: "2026-03-01",
	}
	first := rec.PartitionKey(16)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, rec.PartitionKey(16))
	}

	// Single-bucket layouts collapse to one partition.
	assert.Equal(t, "p000", rec.PartitionKey(1))
	assert.Equal(t, "p000", rec.PartitionKey(0))
}

func TestNormalizedFlightRecord_EstimateBytesGrowsWithContent(t *testing.T) {
	small := &model.NormalizedFlightRecord{FlightID: "A"}
	large := &model.NormalizedFlightRecord{FlightID: "A", Origin: "JFK", Destination: "LAX"}
	assert.Greater(t, large.EstimateBytes(), small.EstimateBytes())
	assert.Positive(t, small.EstimateBytes())
}

func TestPipelineRun_Counters(t *testing.T) {
	run := model.NewPipelineRun()
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status())

	run.IncrExtracted(5)
	run.IncrTransformed(3)
	run.IncrRejected(2)
	run.IncrLoaded(3)
	run.IncrFailedBatches()

	assert.Equal(t, int64(5), run.Extracted())
	assert.Equal(t, int64(3), run.Transformed())
	assert.Equal(t, int64(2), run.Rejected())
	assert.Equal(t, int64(3), run.Loaded())
	assert.Equal(t, int64(1), run.FailedBatches())

	// Completeness: every extracted record is either transformed or rejected.
	assert.Equal(t, run.Extracted(), run.Transformed()+run.Rejected())
}

func TestPipelineRun_DelayStats(t *testing.T) {
	run := model.NewPipelineRun()

	delay := func(m int) *int { return &m }
	batch := &model.Batch{
		Records: []model.NormalizedFlightRecord{
			{FlightID: "A", DelayMinutes: delay(10)},
			{FlightID: "B", DelayMinutes: delay(-5)},
			{FlightID: "C", DelayMinutes: nil},
			{FlightID: "D", DelayMinutes: delay(25)},
		},
	}
	run.ObserveDelays(batch)
	run.Finalize(model.RunStatusSuccess)

	report := run.Report()
	assert.Equal(t, int64(3), report.DelayStats.Count)
	assert.Equal(t, int64(-5), report.DelayStats.MinMinutes)
	assert.Equal(t, int64(25), report.DelayStats.MaxMinutes)
	assert.InDelta(t, 10.0, report.DelayStats.MeanMinutes, 0.001)
}

func TestPipelineRun_ReportAfterFinalize(t *testing.T) {
	run := model.NewPipelineRun()
	run.IncrExtracted(1)
	time.Sleep(time.Millisecond)
	run.Finalize(model.RunStatusPartial)

	report := run.Report()
	assert.Equal(t, model.RunStatusPartial, report.Status)
	assert.Equal(t, run.ID, report.RunID)
	assert.Greater(t, report.Duration, 0.0)
}

func TestBatch_Ref(t *testing.T) {
	b := &model.Batch{
		Lane:      1,
		Sequence:  7,
		Partition: "p003",
		Records:   []model.NormalizedFlightRecord{{FlightID: "AA123"}},
	}
	assert.Equal(t, 1, b.Rows())
	assert.Contains(t, b.Ref(), "lane=1")
	assert.Contains(t, b.Ref(), "seq=7")
	assert.Contains(t, b.Ref(), "partition=p003")
}
