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

type staticTokens struct{}

func (staticTokens) Token(context.Context) (string, error) {
	return "test-token", nil
}

func testCatalog(handler http.Handler) (*Catalog, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := NewCatalog(CatalogConfig{
		APIBaseURL: ts.URL,
		DriveID:    "drive-1",
	}, staticTokens{})
	return c, ts
}

func TestListChildren(t *testing.T) {
	var gotQuery, gotAuth string
	c, ts := testCatalog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{
			"kind": "drive#fileList",
			"incompleteSearch": false,
			"files": [
				{"id": "f1", "name": "Levels", "mimeType": "application/vnd.google-apps.folder"},
				{"id": "b1", "name": "save.bin", "mimeType": "application/octet-stream"}
			]
		}`))
	}))
	defer ts.Close()

	items, err := c.ListChildren(context.Background(), "parent-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if want := "'parent-1' in parents and trashed != true"; gotQuery != want {
		t.Errorf("q = %q, want %q", gotQuery, want)
	}

	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if !items[0].IsFolder() || items[0].MimeType != "folder" {
		t.Errorf("first item misclassified: %+v", items[0])
	}
	if items[1].IsFolder() || items[1].MimeType != "octet-stream" {
		t.Errorf("second item misclassified: %+v", items[1])
	}
}

func TestListChildrenWithNameQuery(t *testing.T) {
	var gotQuery string
	c, ts := testCatalog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`{"files": []}`))
	}))
	defer ts.Close()

	if _, err := c.ListChildren(context.Background(), "parent-1", "save"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "'parent-1' in parents and trashed != true and name contains 'save'"
	if gotQuery != want {
		t.Errorf("q = %q, want %q", gotQuery, want)
	}
}

func TestListChildrenRemoteFailure(t *testing.T) {
	c, ts := testCatalog(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := c.ListChildren(context.Background(), "parent-1", "")
	if !errors.Is(err, ErrRemoteQuery) {
		t.Errorf("error = %v, want ErrRemoteQuery", err)
	}
}

func TestFindItemByName(t *testing.T) {
	tests := []struct {
		name      string
		parentID  string
		kind      Kind
		body      string
		wantID    string
		wantFound bool
		wantQ     string
	}{
		{
			name: "folder hit", parentID: "p1", kind: KindFolder,
			body:      `{"files": [{"id": "folder-9", "name": "2.1.0"}, {"id": "folder-10", "name": "2.1.0"}]}`,
			wantID:    "folder-9",
			wantFound: true,
			wantQ:     "mimeType = 'application/vnd.google-apps.folder' and name = '2.1.0' and trashed != true and 'p1' in parents",
		},
		{
			name: "file miss", parentID: "p1", kind: KindBlob,
			body:      `{"kind": "drive#fileList", "incompleteSearch": false, "files": []}`,
			wantFound: false,
			wantQ:     "mimeType != 'application/vnd.google-apps.folder' and name = '2.1.0' and trashed != true and 'p1' in parents",
		},
		{
			name: "no parent constraint", parentID: "", kind: KindFolder,
			body:      `{"files": [{"id": "folder-1"}]}`,
			wantID:    "folder-1",
			wantFound: true,
			wantQ:     "mimeType = 'application/vnd.google-apps.folder' and name = '2.1.0' and trashed != true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQ string
			c, ts := testCatalog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQ = r.URL.Query().Get("q")
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			id, found, err := c.FindItemByName(context.Background(), tt.parentID, "2.1.0", tt.kind)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found != tt.wantFound || id != tt.wantID {
				t.Errorf("got (%q, %v), want (%q, %v)", id, found, tt.wantID, tt.wantFound)
			}
			if gotQ != tt.wantQ {
				t.Errorf("q = %q, want %q", gotQ, tt.wantQ)
			}
		})
	}
}

func TestCreateFolder(t *testing.T) {
	c, ts := testCatalog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		for _, want := range []string{`"name":"2.1.0"`, `"mimeType":"application/vnd.google-apps.folder"`, `"parents":["root-1"]`} {
			if !strings.Contains(string(body), want) {
				t.Errorf("body %s missing %s", body, want)
			}
		}
		w.Write([]byte(`{"kind": "drive#file", "id": "new-folder-1", "name": "2.1.0"}`))
	}))
	defer ts.Close()

	id, err := c.CreateFolder(context.Background(), "2.1.0", "root-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "new-folder-1" {
		t.Errorf("id = %q, want new-folder-1", id)
	}
}

func TestCreateFolderRemoteFailure(t *testing.T) {
	c, ts := testCatalog(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := c.CreateFolder(context.Background(), "2.1.0", "root-1")
	if !errors.Is(err, ErrRemoteWrite) {
		t.Errorf("error = %v, want ErrRemoteWrite", err)
	}
}

func TestDownloadFile(t *testing.T) {
	c, ts := testCatalog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("alt"); got != "media" {
			t.Errorf("alt = %q, want media", got)
		}
		w.Write([]byte("binary-content"))
	}))
	defer ts.Close()

	body, err := c.DownloadFile(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "binary-content" {
		t.Errorf("content = %q", data)
	}
}
