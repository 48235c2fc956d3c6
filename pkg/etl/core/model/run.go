package model

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the completion status of a pipeline run.
type RunStatus string

const (
	// RunStatusRunning is the status while lanes are executing.
	RunStatusRunning RunStatus = "RUNNING"
	// RunStatusSuccess means extraction completed with zero failed batches.
	RunStatusSuccess RunStatus = "SUCCESS"
	// RunStatusPartial means extraction completed but some batches failed.
	RunStatusPartial RunStatus = "PARTIAL"
	// RunStatusAborted means a fatal extractor error or cancellation ended the run.
	RunStatusAborted RunStatus = "ABORTED"
)

// String returns the RunStatus as a string.
func (s RunStatus) String() string {
	return string(s)
}

// PipelineRun is the process-wide state of one pipeline execution. Worker
// lanes share it only through its atomic counters; there is no other shared
// mutable state between lanes.
type PipelineRun struct {
	ID        string
	StartTime time.Time

	extracted     atomic.Int64
	transformed   atomic.Int64
	rejected      atomic.Int64
	loaded        atomic.Int64
	failedBatches atomic.Int64

	// delayStats aggregates delay_minutes over loaded rows for the run
	// report. Guarded by mu; updated once per delivered batch, not per row,
	// so contention stays negligible.
	mu         sync.Mutex
	delayCount int64
	delaySum   int64
	delayMin   int64
	delayMax   int64

	endTime time.Time
	status  RunStatus
}

// NewPipelineRun creates a run in RUNNING state with a fresh run id.
func NewPipelineRun() *PipelineRun {
	return &PipelineRun{
		ID:        uuid.New().String(),
		StartTime: time.Now(),
		status:    RunStatusRunning,
	}
}

// IncrExtracted adds n to the extracted counter.
func (r *PipelineRun) IncrExtracted(n int) { r.extracted.Add(int64(n)) }

// IncrTransformed adds n to the transformed counter.
func (r *PipelineRun) IncrTransformed(n int) { r.transformed.Add(int64(n)) }

// IncrRejected adds n to the rejected counter.
func (r *PipelineRun) IncrRejected(n int) { r.rejected.Add(int64(n)) }

// IncrLoaded adds n to the loaded row counter.
func (r *PipelineRun) IncrLoaded(n int) { r.loaded.Add(int64(n)) }

// IncrFailedBatches adds one to the failed batch counter.
func (r *PipelineRun) IncrFailedBatches() { r.failedBatches.Add(1) }

// Extracted returns the extracted record count.
func (r *PipelineRun) Extracted() int64 { return r.extracted.Load() }

// Transformed returns the successfully transformed record count.
func (r *PipelineRun) Transformed() int64 { return r.transformed.Load() }

// Rejected returns the rejected record count.
func (r *PipelineRun) Rejected() int64 { return r.rejected.Load() }

// Loaded returns the loaded row count.
func (r *PipelineRun) Loaded() int64 { return r.loaded.Load() }

// FailedBatches returns the number of batches that ended as failed.
func (r *PipelineRun) FailedBatches() int64 { return r.failedBatches.Load() }

// ObserveDelays folds the delay_minutes values of a delivered batch into the
// run statistics. Rows without an observed actual time carry no delay and are
// not counted.
func (r *PipelineRun) ObserveDelays(batch *Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range batch.Records {
		d := batch.Records[i].DelayMinutes
		if d == nil {
			continue
		}
		v := int64(*d)
		if r.delayCount == 0 || v < r.delayMin {
			r.delayMin = v
		}
		if r.delayCount == 0 || v > r.delayMax {
			r.delayMax = v
		}
		r.delayCount++
		r.delaySum += v
	}
}

// Finalize sets the completion status and end time. It must be called exactly
// once, after all lanes have joined.
func (r *PipelineRun) Finalize(status RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.endTime = time.Now()
}

// Status returns the current run status.
func (r *PipelineRun) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// DelayStats summarizes delay_minutes over the rows loaded in a run.
type DelayStats struct {
	Count       int64   `json:"count"`
	MinMinutes  int64   `json:"min_minutes"`
	MaxMinutes  int64   `json:"max_minutes"`
	MeanMinutes float64 `json:"mean_minutes"`
}

// RunReport is the structured summary emitted at run completion. The counts
// always reflect the true totals: every rejected or failed item is accounted
// for in a sink.
type RunReport struct {
	RunID         string     `json:"run_id"`
	Extracted     int64      `json:"extracted"`
	Transformed   int64      `json:"transformed"`
	Rejected      int64      `json:"rejected"`
	Loaded        int64      `json:"loaded"`
	FailedBatches int64      `json:"failed_batches"`
	Status        RunStatus  `json:"status"`
	Duration      float64    `json:"duration_seconds"`
	DelayStats    DelayStats `json:"delay_stats"`
}

// Report builds the final run report. Call after Finalize.
func (r *PipelineRun) Report() *RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := DelayStats{Count: r.delayCount, MinMinutes: r.delayMin, MaxMinutes: r.delayMax}
	if r.delayCount > 0 {
		stats.MeanMinutes = float64(r.delaySum) / float64(r.delayCount)
	}

	end := r.endTime
	if end.IsZero() {
		end = time.Now()
	}

	return &RunReport{
		RunID:         r.ID,
		Extracted:     r.extracted.Load(),
		Transformed:   r.transformed.Load(),
		Rejected:      r.rejected.Load(),
		Loaded:        r.loaded.Load(),
		FailedBatches: r.failedBatches.Load(),
		Status:        r.status,
		Duration:      end.Sub(r.StartTime).Seconds(),
		DelayStats:    stats,
	}
}
