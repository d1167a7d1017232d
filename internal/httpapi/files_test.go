package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
	"github.com/arkeep-io/sandboxagent/internal/fileengine"
	"github.com/arkeep-io/sandboxagent/internal/pathguard"
)

func newTestFilesHandler(t *testing.T) (*FilesHandler, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := pathguard.New(root)
	if err != nil {
		t.Fatalf("pathguard.New() error = %v", err)
	}
	return NewFilesHandler(fileengine.New(guard, 1<<20, 4)), root
}

func TestWriteJSONModeCreatesFile(t *testing.T) {
	h, root := newTestFilesHandler(t)
	body := `{"path":"greeting.txt","content":"hello"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/v1/files/write", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	h.Write(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	got, err := os.ReadFile(filepath.Join(root, "greeting.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("file content = %q, want hello", got)
	}
}

func TestWriteRejectsEmptyPath(t *testing.T) {
	h, _ := newTestFilesHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/v1/files/write", strings.NewReader(`{"content":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	h.Write(w, r)

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Status != apierr.StatusValidation {
		t.Fatalf("status = %v, want StatusValidation", env.Status)
	}
}

func TestWriteRawModeCreatesFile(t *testing.T) {
	h, root := newTestFilesHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/v1/files/write?path=raw.bin", strings.NewReader("raw-bytes"))
	r.Header.Set("Content-Type", "application/octet-stream")
	r.ContentLength = int64(len("raw-bytes"))
	h.Write(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	got, _ := os.ReadFile(filepath.Join(root, "raw.bin"))
	if string(got) != "raw-bytes" {
		t.Fatalf("file content = %q, want raw-bytes", got)
	}
}

func TestWriteMultipartModeCreatesFile(t *testing.T) {
	h, root := newTestFilesHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("path", "upload.txt")
	part, _ := mw.CreateFormFile("file", "upload.txt")
	part.Write([]byte("multipart-content"))
	mw.Close()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/v1/files/write", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	h.Write(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	got, _ := os.ReadFile(filepath.Join(root, "upload.txt"))
	if string(got) != "multipart-content" {
		t.Fatalf("file content = %q, want multipart-content", got)
	}
}

func TestReadReturnsJSONContent(t *testing.T) {
	h, root := newTestFilesHandler(t)
	os.WriteFile(filepath.Join(root, "read-me.txt"), []byte("readable"), 0o644)

	w := httptest.NewRecorder()
	h.Read(w, httptest.NewRequest("GET", "/api/v1/files/read?path=read-me.txt", nil))

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	data := env.Data.(map[string]any)
	if data["content"] != "readable" {
		t.Fatalf("content = %v, want readable", data["content"])
	}
}

func TestReadRejectsMissingPath(t *testing.T) {
	h, _ := newTestFilesHandler(t)
	w := httptest.NewRecorder()
	h.Read(w, httptest.NewRequest("GET", "/api/v1/files/read", nil))

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Status != apierr.StatusValidation {
		t.Fatalf("status = %v, want StatusValidation", env.Status)
	}
}

func TestReadStreamModeServesRawBytes(t *testing.T) {
	h, root := newTestFilesHandler(t)
	os.WriteFile(filepath.Join(root, "stream-me.txt"), []byte("streamed"), 0o644)

	w := httptest.NewRecorder()
	h.Read(w, httptest.NewRequest("GET", "/api/v1/files/read?path=stream-me.txt&stream=1", nil))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "streamed" {
		t.Fatalf("body = %q, want streamed", w.Body.String())
	}
}

func TestListReturnsDirectoryEntries(t *testing.T) {
	h, root := newTestFilesHandler(t)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest("POST", "/api/v1/files/list", strings.NewReader(`{"path":"."}`)))

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	entries := env.Data.([]any)
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2: %+v", len(entries), entries)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	h, root := newTestFilesHandler(t)
	os.WriteFile(filepath.Join(root, "doomed.txt"), []byte("x"), 0o644)

	w := httptest.NewRecorder()
	h.Delete(w, httptest.NewRequest("POST", "/api/v1/files/delete", strings.NewReader(`{"path":"doomed.txt"}`)))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(root, "doomed.txt")); !os.IsNotExist(err) {
		t.Fatal("file should have been deleted")
	}
}

func TestMoveRelocatesFile(t *testing.T) {
	h, root := newTestFilesHandler(t)
	os.WriteFile(filepath.Join(root, "src.txt"), []byte("moved"), 0o644)

	w := httptest.NewRecorder()
	body := `{"source":"src.txt","destination":"dst.txt"}`
	h.Move(w, httptest.NewRequest("POST", "/api/v1/files/move", strings.NewReader(body)))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	got, err := os.ReadFile(filepath.Join(root, "dst.txt"))
	if err != nil {
		t.Fatalf("ReadFile(dst.txt): %v", err)
	}
	if string(got) != "moved" {
		t.Fatalf("content = %q, want moved", got)
	}
}

func TestRenameNeverOverwritesExistingDestination(t *testing.T) {
	h, root := newTestFilesHandler(t)
	os.WriteFile(filepath.Join(root, "old.txt"), []byte("old"), 0o644)
	os.WriteFile(filepath.Join(root, "existing.txt"), []byte("existing"), 0o644)

	w := httptest.NewRecorder()
	body := `{"oldPath":"old.txt","newPath":"existing.txt"}`
	h.Rename(w, httptest.NewRequest("POST", "/api/v1/files/rename", strings.NewReader(body)))

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Status == apierr.StatusOK {
		t.Fatal("Rename() onto an existing file should fail, never overwrites")
	}
}

func TestSearchMatchesByName(t *testing.T) {
	h, root := newTestFilesHandler(t)
	os.WriteFile(filepath.Join(root, "needle.go"), []byte("package main"), 0o644)
	os.WriteFile(filepath.Join(root, "other.go"), []byte("package main"), 0o644)

	w := httptest.NewRecorder()
	body := `{"dir":".","pattern":"needle"}`
	h.Search(w, httptest.NewRequest("POST", "/api/v1/files/search", strings.NewReader(body)))

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	matches := env.Data.([]any)
	if len(matches) != 1 {
		t.Fatalf("Search() = %+v, want one match", matches)
	}
}

func TestFindMatchesByContent(t *testing.T) {
	h, root := newTestFilesHandler(t)
	os.WriteFile(filepath.Join(root, "has-keyword.txt"), []byte("contains TODO marker"), 0o644)
	os.WriteFile(filepath.Join(root, "plain.txt"), []byte("nothing here"), 0o644)

	w := httptest.NewRecorder()
	body := `{"dir":".","keyword":"TODO"}`
	h.Find(w, httptest.NewRequest("POST", "/api/v1/files/find", strings.NewReader(body)))

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	results := env.Data.([]any)
	if len(results) != 1 {
		t.Fatalf("Find() = %+v, want one match", results)
	}
}

func TestReplaceRewritesFileContent(t *testing.T) {
	h, root := newTestFilesHandler(t)
	os.WriteFile(filepath.Join(root, "target.txt"), []byte("hello world"), 0o644)

	w := httptest.NewRecorder()
	body := `{"files":["target.txt"],"from":"world","to":"there"}`
	h.Replace(w, httptest.NewRequest("POST", "/api/v1/files/replace", strings.NewReader(body)))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	got, _ := os.ReadFile(filepath.Join(root, "target.txt"))
	if string(got) != "hello there" {
		t.Fatalf("content = %q, want %q", got, "hello there")
	}
}
