package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"campus/attendance-console/internal/auth"
	"campus/attendance-console/internal/config"
	"campus/attendance-console/internal/platform"
	"campus/attendance-console/internal/report"
	"campus/attendance-console/internal/session"
)

type Server struct {
	cfg       config.Config
	platform  *platform.Client
	poller    *report.Poller
	redis     *redis.Client
	rosterTTL time.Duration

	// registry holds the working set of every session currently being
	// edited. One mutex serializes all mutations: scans resolve one at a
	// time, in submission order.
	mu       sync.Mutex
	registry map[string]*session.WorkingSet
}

func NewServer(cfg config.Config, platformClient *platform.Client, redisClient *redis.Client) *Server {
	return &Server{
		cfg:       cfg,
		platform:  platformClient,
		poller:    report.NewPoller(platformClient, cfg.ReportPollInterval, cfg.ReportMaxPolls),
		redis:     redisClient,
		rosterTTL: cfg.RosterCacheTTL,
		registry:  make(map[string]*session.WorkingSet),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/courses/{courseId}/sessions", s.handleCreateSession)
		r.Get("/courses/{courseId}/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionId}", s.handleGetSession)
		r.Delete("/sessions/{sessionId}", s.handleDeleteSession)
		r.Post("/sessions/{sessionId}/close", s.handleCloseSession)
		r.Patch("/sessions/{sessionId}/records/{memberId}", s.handleSetRecord)
		r.Post("/sessions/{sessionId}/mark-all", s.handleMarkAll)
		r.Post("/sessions/{sessionId}/scan", s.handleScan)
		r.Get("/sessions/{sessionId}/scans", s.handleListScans)
		r.Post("/sessions/{sessionId}/save", s.handleSave)
		r.Post("/reports", s.handleGenerateReport)
	})

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		if claims.UserType != "admin" && claims.UserType != "teacher" {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Models

type createSessionRequest struct {
	SessionDate string `json:"session_date" validate:"required,datetime=2006-01-02"`
	Title       string `json:"session_title"`
	Method      string `json:"method" validate:"required,oneof=manual barcode mixed"`
}

type setRecordRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note"`
}

type markAllRequest struct {
	Status string `json:"status" validate:"required"`
}

type scanRequest struct {
	Code string `json:"code" validate:"required"`
}

type recordResponse struct {
	MemberID    string `json:"course_student_id"`
	FullName    string `json:"full_name"`
	CardNumber  string `json:"card_number,omitempty"`
	AdmissionNo string `json:"admission_no,omitempty"`
	Status      string `json:"status"`
	Note        string `json:"note,omitempty"`
	Source      string `json:"source"`
}

type sessionStateResponse struct {
	Session session.Session  `json:"session"`
	Records []recordResponse `json:"records"`
	Present int              `json:"present_count"`
	Absent  int              `json:"absent_count"`
	Dirty   bool             `json:"dirty"`
}

type scanResponse struct {
	Member     session.RosterMember `json:"member"`
	Record     session.Record       `json:"record"`
	Reaffirmed bool                 `json:"reaffirmed"`
	EventID    string               `json:"event_id"`
}

var validate = validator.New()

// Handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseId")
	if _, err := uuid.Parse(courseID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_course")
		return
	}
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	method, err := session.NormalizeMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_method")
		return
	}

	created, err := s.platform.CreateSession(r.Context(), platform.CreateSessionParams{
		CourseID:    courseID,
		SessionDate: req.SessionDate,
		Title:       req.Title,
		Method:      method,
	})
	if err != nil {
		writePlatformError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseId")
	if _, err := uuid.Parse(courseID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_course")
		return
	}
	params := platform.ListSessionsParams{CourseID: courseID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if raw != string(session.StatusOpen) && raw != string(session.StatusClosed) {
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}
		params.Status = session.Status(raw)
	}
	sessions, err := s.platform.ListSessions(r.Context(), params)
	if err != nil {
		writePlatformError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	ws, err := s.workingSet(r.Context(), sessionID)
	if err != nil {
		writePlatformError(w, err)
		return
	}
	s.mu.Lock()
	resp := mapSessionState(ws)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if claims := claimsFromContext(r.Context()); claims == nil || claims.UserType != "admin" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	// Deletion is allowed regardless of session status and cascades the
	// records on the platform side.
	if err := s.platform.DeleteSession(r.Context(), sessionID); err != nil {
		writePlatformError(w, err)
		return
	}
	s.mu.Lock()
	delete(s.registry, sessionID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	ws, err := s.workingSet(r.Context(), sessionID)
	if err != nil {
		writePlatformError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ws.Closed() {
		writeError(w, http.StatusConflict, "session_closed")
		return
	}
	if ws.Dirty() {
		writeError(w, http.StatusConflict, "unsaved_changes")
		return
	}
	closed, err := s.platform.CloseSession(r.Context(), sessionID)
	if err != nil {
		writePlatformError(w, err)
		return
	}
	if err := ws.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	sessionsClosedTotal.Inc()
	writeJSON(w, http.StatusOK, closed)
}

func (s *Server) handleSetRecord(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	memberID := chi.URLParam(r, "memberId")
	var req setRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	status, err := session.NormalizeRecordStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}

	ws, err := s.workingSet(r.Context(), sessionID)
	if err != nil {
		writePlatformError(w, err)
		return
	}
	s.mu.Lock()
	err = ws.SetStatus(memberID, status, req.Note)
	s.mu.Unlock()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAll(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	var req markAllRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	status, err := session.NormalizeRecordStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}

	ws, err := s.workingSet(r.Context(), sessionID)
	if err != nil {
		writePlatformError(w, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ws.MarkAll(status); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSessionState(ws))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code")
		return
	}

	ws, err := s.workingSet(r.Context(), sessionID)
	if err != nil {
		writePlatformError(w, err)
		return
	}

	// The lock is held across the platform call on purpose: scans are
	// accepted one at a time, in the order the operator submits them.
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if _, found := ws.LookupCode(code); !found || ws.Closed() {
		_, err := ws.Scan(code, now)
		var unresolved *session.UnresolvedScanError
		switch {
		case errors.As(err, &unresolved):
			scansTotal.WithLabelValues("unresolved").Inc()
			writeError(w, http.StatusNotFound, "scan_unresolved")
		case errors.Is(err, session.ErrSessionClosed):
			scansTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusConflict, "session_closed")
		default:
			writeError(w, http.StatusInternalServerError, "server_error")
		}
		return
	}

	// Mirror the scan to the platform before touching local state so a
	// transport failure leaves the working set untouched.
	if _, err := s.platform.SubmitScan(r.Context(), sessionID, code); err != nil {
		scansTotal.WithLabelValues("error").Inc()
		writePlatformError(w, err)
		return
	}

	result, err := ws.Scan(code, now)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	scansTotal.WithLabelValues("resolved").Inc()
	writeJSON(w, http.StatusOK, scanResponse{
		Member:     result.Member,
		Record:     result.Record,
		Reaffirmed: result.Reaffirmed,
		EventID:    result.Event.ID,
	})
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	ws, err := s.workingSet(r.Context(), sessionID)
	if err != nil {
		writePlatformError(w, err)
		return
	}
	s.mu.Lock()
	events := ws.Events()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	ws, err := s.workingSet(r.Context(), sessionID)
	if err != nil {
		writePlatformError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := ws.Snapshot()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if err := s.platform.SaveRecords(r.Context(), sessionID, records); err != nil {
		writePlatformError(w, err)
		return
	}
	ws.MarkSaved()
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(records)})
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req platform.ReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	result, err := s.poller.Generate(r.Context(), req, func(status string, pct int) {
		reportProgress.Set(float64(pct))
		log.Printf("report %s: %s %d%%", req.ReportType, status, pct)
	})
	if err != nil {
		reportsTotal.WithLabelValues("failed").Inc()
		var failed *report.FailedError
		switch {
		case errors.As(err, &failed):
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":   "report_failed",
				"message": failed.Message,
			})
		case errors.Is(err, report.ErrNoReportResult):
			writeError(w, http.StatusBadGateway, "report_no_result")
		case errors.Is(err, report.ErrPollLimit):
			writeError(w, http.StatusGatewayTimeout, "report_poll_limit")
		case errors.Is(err, context.Canceled):
			// Caller went away; nothing to write.
		default:
			writePlatformError(w, err)
		}
		return
	}
	reportsTotal.WithLabelValues("completed").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"download_url": result.DownloadURL})
}

// Working set registry

func (s *Server) workingSet(ctx context.Context, sessionID string) (*session.WorkingSet, error) {
	s.mu.Lock()
	if ws, ok := s.registry[sessionID]; ok {
		s.mu.Unlock()
		return ws, nil
	}
	s.mu.Unlock()

	detail, err := s.platform.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	roster, err := s.loadRoster(ctx, detail.CourseID)
	if err != nil {
		return nil, err
	}
	ws := session.NewWorkingSet(detail.Session, roster, detail.Records)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.registry[sessionID]; ok {
		return existing, nil
	}
	s.registry[sessionID] = ws
	return ws, nil
}

func mapSessionState(ws *session.WorkingSet) sessionStateResponse {
	roster := ws.Roster()
	records := make([]recordResponse, 0, len(roster))
	for _, member := range roster {
		record, _ := ws.Record(member.ID)
		records = append(records, recordResponse{
			MemberID:    member.ID,
			FullName:    member.FullName,
			CardNumber:  member.CardNumber,
			AdmissionNo: member.AdmissionNo,
			Status:      string(record.Status),
			Note:        record.Note,
			Source:      string(record.Source),
		})
	}
	present, absent := ws.Counts()
	return sessionStateResponse{
		Session: ws.Session(),
		Records: records,
		Present: present,
		Absent:  absent,
		Dirty:   ws.Dirty(),
	}
}

// Roster cache

func (s *Server) loadRoster(ctx context.Context, courseID string) ([]session.RosterMember, error) {
	if roster, ok := s.loadCachedRoster(ctx, courseID); ok {
		return roster, nil
	}
	roster, err := s.platform.GetRoster(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := s.storeCachedRoster(ctx, courseID, roster); err != nil {
		log.Printf("roster cache store error: %v", err)
	}
	return roster, nil
}

func (s *Server) loadCachedRoster(ctx context.Context, courseID string) ([]session.RosterMember, bool) {
	if s.redis == nil {
		return nil, false
	}
	value, err := s.redis.Get(ctx, rosterCacheKey(courseID)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("roster cache load error: %v", err)
		return nil, false
	}
	var roster []session.RosterMember
	if err := json.Unmarshal([]byte(value), &roster); err != nil {
		return nil, false
	}
	return roster, true
}

func (s *Server) storeCachedRoster(ctx context.Context, courseID string, roster []session.RosterMember) error {
	if s.redis == nil {
		return nil
	}
	data, err := json.Marshal(roster)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, rosterCacheKey(courseID), data, s.rosterTTL).Err()
}

func rosterCacheKey(courseID string) string {
	return fmt.Sprintf("roster:%s", courseID)
}

// Utilities

func sessionIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := chi.URLParam(r, "sessionId")
	if _, err := uuid.Parse(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id")
		return "", false
	}
	return sessionID, true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusConflict, "session_closed")
	case errors.Is(err, session.ErrUnsavedChanges):
		writeError(w, http.StatusConflict, "unsaved_changes")
	case errors.Is(err, session.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, "member_not_found")
	default:
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func writePlatformError(w http.ResponseWriter, err error) {
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		writeError(w, apiErr.Status, apiErr.Code)
		return
	}
	writeError(w, http.StatusBadGateway, "platform_unavailable")
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
