package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campus/attendance-console/internal/session"
)

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth, gotContentType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewEncoder(w).Encode(session.Session{ID: "s1"})
	}))
	defer upstream.Close()

	client := New(upstream.URL, "svc-token", time.Second)
	if _, err := client.GetSession(context.Background(), "s1"); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if gotAuth != "Bearer svc-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "session_closed"})
	}))
	defer upstream.Close()

	client := New(upstream.URL, "", time.Second)
	_, err := client.CloseSession(context.Background(), "s1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "session_closed" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestClientFallsBackToStatusText(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	client := New(upstream.URL, "", time.Second)
	_, err := client.GetRoster(context.Background(), "c1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Code != http.StatusText(http.StatusBadGateway) {
		t.Fatalf("code = %q", apiErr.Code)
	}
}

func TestListSessionsEncodesFilters(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]session.Session{})
	}))
	defer upstream.Close()

	client := New(upstream.URL, "", time.Second)
	_, err := client.ListSessions(context.Background(), ListSessionsParams{
		CourseID: "c1",
		Status:   session.StatusOpen,
		DateTo:   "2026-03-01",
	})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if gotQuery != "course_id=c1&date_to=2026-03-01&status=open" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestSaveRecordsEnvelope(t *testing.T) {
	var gotPath string
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	client := New(upstream.URL, "", time.Second)
	records := []session.Record{
		{MemberID: "m1", Status: session.RecordPresent, Source: session.SourceScan},
	}
	if err := client.SaveRecords(context.Background(), "s1", records); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	if gotPath != "/course-attendance-sessions/s1/records" {
		t.Fatalf("path = %q", gotPath)
	}
	var payload struct {
		Records []session.Record `json:"records"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if len(payload.Records) != 1 || payload.Records[0].MemberID != "m1" {
		t.Fatalf("payload = %+v", payload)
	}
}
