package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campus/attendance-console/internal/session"
)

// Report job statuses as reported by the platform.
const (
	ReportPending    = "pending"
	ReportProcessing = "processing"
	ReportCompleted  = "completed"
	ReportFailed     = "failed"
)

// APIError is a non-2xx response from the platform, decoded from its
// {"error": code} envelope.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %d %s", e.Status, e.Code)
}

type CreateSessionParams struct {
	CourseID    string         `json:"course_id"`
	SessionDate string         `json:"session_date"`
	Title       string         `json:"session_title,omitempty"`
	Method      session.Method `json:"method"`
}

type ListSessionsParams struct {
	CourseID string
	Status   session.Status
	DateTo   string
}

type SessionDetail struct {
	session.Session
	Records []session.Record `json:"records"`
}

type ScanAck struct {
	MemberID string `json:"course_student_id"`
	Status   string `json:"status"`
}

type ReportRequest struct {
	ReportType         string `json:"report_type" validate:"required"`
	ReportVariant      string `json:"report_variant,omitempty"`
	ClassID            string `json:"class_id,omitempty"`
	SchoolID           string `json:"school_id,omitempty"`
	Status             string `json:"status,omitempty"`
	DateFrom           string `json:"date_from,omitempty"`
	DateTo             string `json:"date_to,omitempty"`
	AcademicYearID     string `json:"academic_year_id,omitempty"`
	Language           string `json:"language,omitempty"`
	CalendarPreference string `json:"calendar_preference,omitempty"`
}

type ReportSubmission struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"download_url,omitempty"`
	ReportID    string `json:"report_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ReportStatus struct {
	Success      bool   `json:"success"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	DownloadURL  string `json:"download_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Client talks to the school platform API, the system of record for
// sessions, rosters and attendance records.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateSession(ctx context.Context, params CreateSessionParams) (session.Session, error) {
	var out session.Session
	err := c.do(ctx, http.MethodPost, "/course-attendance-sessions", params, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context, params ListSessionsParams) ([]session.Session, error) {
	query := url.Values{}
	if params.CourseID != "" {
		query.Set("course_id", params.CourseID)
	}
	if params.Status != "" {
		query.Set("status", string(params.Status))
	}
	if params.DateTo != "" {
		query.Set("date_to", params.DateTo)
	}
	path := "/course-attendance-sessions"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out []session.Session
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (SessionDetail, error) {
	var out SessionDetail
	err := c.do(ctx, http.MethodGet, "/course-attendance-sessions/"+sessionID, nil, &out)
	return out, err
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) (session.Session, error) {
	var out session.Session
	err := c.do(ctx, http.MethodPost, "/course-attendance-sessions/"+sessionID+"/close", nil, &out)
	return out, err
}

// DeleteSession removes a session and all its records in one unit.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/course-attendance-sessions/"+sessionID, nil, nil)
}

func (c *Client) GetRoster(ctx context.Context, courseID string) ([]session.RosterMember, error) {
	var out []session.RosterMember
	err := c.do(ctx, http.MethodGet, "/courses/"+courseID+"/roster", nil, &out)
	return out, err
}

func (c *Client) SaveRecords(ctx context.Context, sessionID string, records []session.Record) error {
	payload := map[string][]session.Record{"records": records}
	return c.do(ctx, http.MethodPost, "/course-attendance-sessions/"+sessionID+"/records", payload, nil)
}

func (c *Client) SubmitScan(ctx context.Context, sessionID, code string) (ScanAck, error) {
	payload := map[string]string{"code": code}
	var out ScanAck
	err := c.do(ctx, http.MethodPost, "/course-attendance-sessions/"+sessionID+"/scan", payload, &out)
	return out, err
}

func (c *Client) SubmitReport(ctx context.Context, req ReportRequest) (ReportSubmission, error) {
	var out ReportSubmission
	err := c.do(ctx, http.MethodPost, "/reports", req, &out)
	return out, err
}

func (c *Client) ReportStatus(ctx context.Context, reportID string) (ReportStatus, error) {
	var out ReportStatus
	err := c.do(ctx, http.MethodGet, "/reports/"+reportID+"/status", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		if envelope.Error == "" {
			envelope.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: envelope.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
