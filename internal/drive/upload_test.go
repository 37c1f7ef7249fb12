package drive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testUploadClient(handler http.Handler) (*UploadClient, *httptest.Server) {
	ts := httptest.NewServer(handler)
	u := NewUploadClient(UploadConfig{UploadBaseURL: ts.URL}, staticTokens{})
	return u, ts
}

func TestMungeLocationToken(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{
			location: "https://www.googleapis.com/upload/drive/v3/files?uploadType=resumable&upload_id=AAA123",
			want:     "upload_id=AAA123",
		},
		{
			location: "https://host/path?a=1&b=2&c=3",
			want:     "b=2&c=3",
		},
		{
			location: "no-ampersand-at-all",
			want:     "no-ampersand-at-all",
		},
	}
	for _, tt := range tests {
		if got := mungeLocationToken(tt.location); got != tt.want {
			t.Errorf("mungeLocationToken(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestInitiateSessionCreate(t *testing.T) {
	var gotMethod, gotPath, gotBody, gotLen, gotType string
	u, ts := testUploadClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotLen = r.Header.Get("X-Upload-Content-Length")
		gotType = r.Header.Get("X-Upload-Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Location", "https://session.example/upload?uploadType=resumable&upload_id=SESSION42")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	token, err := u.InitiateSession(context.Background(), SessionRequest{
		Name:          "save_Hashabc",
		ParentID:      "folder-1",
		Mode:          ModeCreate,
		ContentLength: 512,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "upload_id=SESSION42" {
		t.Errorf("token = %q", token)
	}
	if gotMethod != http.MethodPost || gotPath != "/files" {
		t.Errorf("request = %s %s, want POST /files", gotMethod, gotPath)
	}
	if gotLen != "512" || gotType != "application/octet-stream" {
		t.Errorf("upload headers = (%q, %q)", gotLen, gotType)
	}
	for _, want := range []string{`"name":"save_Hashabc"`, `"parents":["folder-1"]`} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("body %s missing %s", gotBody, want)
		}
	}
}

func TestInitiateSessionUpdate(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	u, ts := testUploadClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Location", "https://session.example/upload?x=1&upload_id=UPD7")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	token, err := u.InitiateSession(context.Background(), SessionRequest{
		Name:          "save_Hashabc",
		ExistingID:    "file-9",
		Mode:          ModeUpdate,
		ContentLength: 64,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "upload_id=UPD7" {
		t.Errorf("token = %q", token)
	}
	if gotMethod != http.MethodPatch || gotPath != "/files/file-9" {
		t.Errorf("request = %s %s, want PATCH /files/file-9", gotMethod, gotPath)
	}
	if strings.Contains(gotBody, "parents") {
		t.Errorf("update metadata must not carry parents: %s", gotBody)
	}
}

func TestInitiateSessionFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
		},
		{
			name: "missing Location header",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ts := testUploadClient(tt.handler)
			defer ts.Close()

			_, err := u.InitiateSession(context.Background(), SessionRequest{Name: "x", Mode: ModeCreate})
			if !errors.Is(err, ErrSessionInit) {
				t.Errorf("error = %v, want ErrSessionInit", err)
			}
		})
	}
}

func TestPutContent(t *testing.T) {
	var gotQuery, gotType, gotBody string
	u, ts := testUploadClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	payload := "file-payload"
	err := u.PutContent(context.Background(), "upload_id=SESSION42", strings.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotQuery, "upload_id=SESSION42") {
		t.Errorf("query = %q missing session token", gotQuery)
	}
	if gotType != "application/octet-stream" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody != payload {
		t.Errorf("body = %q, want %q", gotBody, payload)
	}
}

func TestPutContentFailure(t *testing.T) {
	u, ts := testUploadClient(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	err := u.PutContent(context.Background(), "upload_id=X", strings.NewReader("x"), 1)
	if !errors.Is(err, ErrUpload) {
		t.Errorf("error = %v, want ErrUpload", err)
	}
}

func TestPutContentFrom(t *testing.T) {
	var gotRange, gotBody string
	u, ts := testUploadClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Content-Range")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	// Tail of a 10-byte file, resuming at offset 4.
	err := u.PutContentFrom(context.Background(), "upload_id=X", strings.NewReader("456789"), 4, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRange != "bytes 4-9/10" {
		t.Errorf("Content-Range = %q, want bytes 4-9/10", gotRange)
	}
	if gotBody != "456789" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestProbeOffset(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		rangeValue string
		want       int64
		wantErr    bool
	}{
		{name: "complete", status: http.StatusOK, want: 10},
		{name: "partial", status: 308, rangeValue: "bytes=0-5", want: 6},
		{name: "nothing received", status: 308, want: 0},
		{name: "session gone", status: http.StatusNotFound, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotRange string
			u, ts := testUploadClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotRange = r.Header.Get("Content-Range")
				if tt.rangeValue != "" {
					w.Header().Set("Range", tt.rangeValue)
				}
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			offset, err := u.ProbeOffset(context.Background(), "upload_id=X", 10)
			if tt.wantErr {
				if !errors.Is(err, ErrUpload) {
					t.Errorf("error = %v, want ErrUpload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if offset != tt.want {
				t.Errorf("offset = %d, want %d", offset, tt.want)
			}
			if gotRange != "bytes */10" {
				t.Errorf("Content-Range = %q, want bytes */10", gotRange)
			}
		})
	}
}
