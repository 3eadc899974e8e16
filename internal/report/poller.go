package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus/attendance-console/internal/platform"
)

// API is the slice of the platform client the poller needs.
type API interface {
	SubmitReport(ctx context.Context, req platform.ReportRequest) (platform.ReportSubmission, error)
	ReportStatus(ctx context.Context, reportID string) (platform.ReportStatus, error)
}

var (
	// ErrNoReportResult means the submission response carried neither a
	// download URL nor a pollable report id.
	ErrNoReportResult = errors.New("report_no_result")
	// ErrPollLimit means the job did not reach a terminal status within the
	// configured number of polls.
	ErrPollLimit = errors.New("report_poll_limit")
)

// FailedError carries the server-side failure message of a report job.
type FailedError struct {
	Message string
}

func (e *FailedError) Error() string {
	if e.Message == "" {
		return "report_failed"
	}
	return fmt.Sprintf("report_failed: %s", e.Message)
}

type Result struct {
	DownloadURL string
}

// Poller drives a report generation request to a terminal state. Polls are
// strictly sequential: the next status fetch is not issued until the previous
// response has been processed.
type Poller struct {
	api      API
	interval time.Duration
	maxPolls int
}

func NewPoller(api API, interval time.Duration, maxPolls int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if maxPolls <= 0 {
		maxPolls = 300
	}
	return &Poller{api: api, interval: interval, maxPolls: maxPolls}
}

// Generate submits the request and, when the server answers with an async
// job id, polls it until completed or failed. progress may be nil; observed
// progress is clamped so it never decreases. Cancelling ctx abandons the
// loop between polls with no stray fetch afterwards.
func (p *Poller) Generate(ctx context.Context, req platform.ReportRequest, progress func(status string, pct int)) (Result, error) {
	submission, err := p.api.SubmitReport(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if submission.Success && submission.DownloadURL != "" {
		return Result{DownloadURL: submission.DownloadURL}, nil
	}
	if !submission.Success || submission.ReportID == "" {
		if submission.Error != "" {
			return Result{}, fmt.Errorf("%w: %s", ErrNoReportResult, submission.Error)
		}
		return Result{}, ErrNoReportResult
	}
	return p.poll(ctx, submission.ReportID, progress)
}

func (p *Poller) poll(ctx context.Context, reportID string, progress func(status string, pct int)) (Result, error) {
	observed := 0
	for polls := 1; ; polls++ {
		status, err := p.api.ReportStatus(ctx, reportID)
		if err != nil {
			return Result{}, err
		}
		if !status.Success {
			if status.Error != "" {
				return Result{}, &FailedError{Message: status.Error}
			}
			return Result{}, &FailedError{Message: "status fetch unsuccessful"}
		}
		if status.Progress > observed {
			observed = status.Progress
		}
		if progress != nil {
			progress(status.Status, observed)
		}
		switch status.Status {
		case platform.ReportCompleted:
			if status.DownloadURL == "" {
				return Result{}, ErrNoReportResult
			}
			return Result{DownloadURL: status.DownloadURL}, nil
		case platform.ReportFailed:
			return Result{}, &FailedError{Message: status.ErrorMessage}
		}
		if polls >= p.maxPolls {
			return Result{}, ErrPollLimit
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
}
