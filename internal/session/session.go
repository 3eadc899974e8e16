package session

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

type Method string

const (
	MethodManual  Method = "manual"
	MethodBarcode Method = "barcode"
	MethodMixed   Method = "mixed"
)

type RecordStatus string

const (
	RecordPresent RecordStatus = "present"
	RecordAbsent  RecordStatus = "absent"
	RecordLate    RecordStatus = "late"
	RecordExcused RecordStatus = "excused"
	RecordSick    RecordStatus = "sick"
	RecordLeave   RecordStatus = "leave"
)

type RecordSource string

const (
	SourceManualDefault RecordSource = "manual-default"
	SourceManualEdit    RecordSource = "manual-edit"
	SourceScan          RecordSource = "scan"
)

type Session struct {
	ID          string `json:"id"`
	CourseID    string `json:"course_id"`
	SessionDate string `json:"session_date"`
	Title       string `json:"session_title,omitempty"`
	Method      Method `json:"method"`
	Status      Status `json:"status"`
}

// RosterMember is sourced from the course enrollment and never changes for
// the lifetime of a session view.
type RosterMember struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	CardNumber  string `json:"card_number,omitempty"`
	AdmissionNo string `json:"admission_no,omitempty"`
}

type Record struct {
	MemberID string       `json:"course_student_id"`
	Status   RecordStatus `json:"status"`
	Note     string       `json:"note,omitempty"`
	Source   RecordSource `json:"source"`
}

// ScanEvent is an append-only audit entry. MemberID is empty when the
// scanned code matched no roster member.
type ScanEvent struct {
	ID        string       `json:"id"`
	Code      string       `json:"code"`
	MemberID  string       `json:"course_student_id,omitempty"`
	Status    RecordStatus `json:"status,omitempty"`
	ScannedAt time.Time    `json:"scanned_at"`
}

var (
	ErrSessionClosed  = errors.New("session_closed")
	ErrUnsavedChanges = errors.New("unsaved_changes")
	ErrMemberNotFound = errors.New("member_not_found")
	errInvalid        = errors.New("invalid value")
)

// UnresolvedScanError reports a scanned code that matched no roster member.
type UnresolvedScanError struct {
	Code string
}

func (e *UnresolvedScanError) Error() string {
	return fmt.Sprintf("scan_unresolved: %s", e.Code)
}

func NormalizeRecordStatus(value string) (RecordStatus, error) {
	switch value {
	case "present", "absent", "late", "excused", "sick", "leave":
		return RecordStatus(value), nil
	default:
		return "", errInvalid
	}
}

func NormalizeMethod(value string) (Method, error) {
	switch value {
	case "manual", "barcode", "mixed":
		return Method(value), nil
	default:
		return "", errInvalid
	}
}
