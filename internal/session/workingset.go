package session

import (
	"time"

	"github.com/google/uuid"
)

// Reconcile merges a course roster with the records already stored for a
// session, producing one record per roster member. Existing records are kept
// unchanged; members without one default to absent. Records that do not
// belong to a roster member are dropped.
func Reconcile(roster []RosterMember, records []Record) map[string]Record {
	existing := make(map[string]Record, len(records))
	for _, record := range records {
		existing[record.MemberID] = record
	}
	merged := make(map[string]Record, len(roster))
	for _, member := range roster {
		if record, ok := existing[member.ID]; ok {
			merged[member.ID] = record
			continue
		}
		merged[member.ID] = Record{
			MemberID: member.ID,
			Status:   RecordAbsent,
			Source:   SourceManualDefault,
		}
	}
	return merged
}

// WorkingSet holds the mutable attendance state for one session view. It is
// owned by a single controller at a time; mutations are only accepted while
// the session is open.
type WorkingSet struct {
	session Session
	roster  []RosterMember
	byCode  map[string]int
	records map[string]Record
	events  []ScanEvent
	dirty   bool
}

type ScanResult struct {
	Member     RosterMember
	Record     Record
	Event      ScanEvent
	Reaffirmed bool
}

func NewWorkingSet(sess Session, roster []RosterMember, records []Record) *WorkingSet {
	byCode := make(map[string]int, len(roster)*2)
	for i, member := range roster {
		if member.CardNumber != "" {
			byCode[member.CardNumber] = i
		}
		if member.AdmissionNo != "" {
			byCode[member.AdmissionNo] = i
		}
	}
	return &WorkingSet{
		session: sess,
		roster:  roster,
		byCode:  byCode,
		records: Reconcile(roster, records),
	}
}

func (ws *WorkingSet) Session() Session {
	return ws.session
}

func (ws *WorkingSet) Closed() bool {
	return ws.session.Status == StatusClosed
}

func (ws *WorkingSet) Dirty() bool {
	return ws.dirty
}

// Records returns the working records in roster order.
func (ws *WorkingSet) Records() []Record {
	out := make([]Record, 0, len(ws.roster))
	for _, member := range ws.roster {
		out = append(out, ws.records[member.ID])
	}
	return out
}

func (ws *WorkingSet) Roster() []RosterMember {
	out := make([]RosterMember, len(ws.roster))
	copy(out, ws.roster)
	return out
}

func (ws *WorkingSet) Record(memberID string) (Record, bool) {
	record, ok := ws.records[memberID]
	return record, ok
}

func (ws *WorkingSet) Events() []ScanEvent {
	out := make([]ScanEvent, len(ws.events))
	copy(out, ws.events)
	return out
}

// LookupCode resolves a scanned card or admission number to a roster member.
func (ws *WorkingSet) LookupCode(code string) (RosterMember, bool) {
	idx, ok := ws.byCode[code]
	if !ok {
		return RosterMember{}, false
	}
	return ws.roster[idx], true
}

func (ws *WorkingSet) SetStatus(memberID string, status RecordStatus, note string) error {
	if ws.Closed() {
		return ErrSessionClosed
	}
	if _, ok := ws.records[memberID]; !ok {
		return ErrMemberNotFound
	}
	ws.records[memberID] = Record{
		MemberID: memberID,
		Status:   status,
		Note:     note,
		Source:   SourceManualEdit,
	}
	ws.dirty = true
	return nil
}

// MarkAll overrides every roster member's record with the given status,
// discarding prior notes.
func (ws *WorkingSet) MarkAll(status RecordStatus) error {
	if ws.Closed() {
		return ErrSessionClosed
	}
	for _, member := range ws.roster {
		ws.records[member.ID] = Record{
			MemberID: member.ID,
			Status:   status,
			Source:   SourceManualEdit,
		}
	}
	ws.dirty = true
	return nil
}

// Scan resolves one scanned code and marks the matching member present.
// An unresolved code still appends an audit event so operators can see failed
// scans; a closed session rejects the scan entirely. Re-scanning an already
// present member keeps the single record and appends a new event.
func (ws *WorkingSet) Scan(code string, at time.Time) (ScanResult, error) {
	if ws.Closed() {
		return ScanResult{}, ErrSessionClosed
	}
	member, ok := ws.LookupCode(code)
	if !ok {
		ws.events = append(ws.events, ScanEvent{
			ID:        uuid.NewString(),
			Code:      code,
			ScannedAt: at,
		})
		return ScanResult{}, &UnresolvedScanError{Code: code}
	}

	prior := ws.records[member.ID]
	reaffirmed := prior.Status == RecordPresent && prior.Source == SourceScan
	record := Record{
		MemberID: member.ID,
		Status:   RecordPresent,
		Source:   SourceScan,
	}
	ws.records[member.ID] = record
	event := ScanEvent{
		ID:        uuid.NewString(),
		Code:      code,
		MemberID:  member.ID,
		Status:    RecordPresent,
		ScannedAt: at,
	}
	ws.events = append(ws.events, event)
	ws.dirty = true
	return ScanResult{
		Member:     member,
		Record:     record,
		Event:      event,
		Reaffirmed: reaffirmed,
	}, nil
}

// Snapshot returns the full record set for persistence. Saving against a
// closed session is rejected before anything leaves the working set.
func (ws *WorkingSet) Snapshot() ([]Record, error) {
	if ws.Closed() {
		return nil, ErrSessionClosed
	}
	return ws.Records(), nil
}

// MarkSaved clears the dirty flag after the record set has been persisted.
func (ws *WorkingSet) MarkSaved() {
	ws.dirty = false
}

// Close transitions the session from open to closed. The transition is one
// way and requires pending edits to have been saved first.
func (ws *WorkingSet) Close() error {
	if ws.Closed() {
		return ErrSessionClosed
	}
	if ws.dirty {
		return ErrUnsavedChanges
	}
	ws.session.Status = StatusClosed
	return nil
}

// Counts derives present/absent totals from the working records.
func (ws *WorkingSet) Counts() (present, absent int) {
	for _, record := range ws.records {
		switch record.Status {
		case RecordPresent, RecordLate:
			present++
		default:
			absent++
		}
	}
	return present, absent
}
