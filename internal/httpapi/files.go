package httpapi

import (
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
	"github.com/arkeep-io/sandboxagent/internal/fileengine"
)

// FilesHandler serves every /api/v1/files/* route (spec §4.E, §6).
type FilesHandler struct {
	engine *fileengine.Engine
}

func NewFilesHandler(engine *fileengine.Engine) *FilesHandler {
	return &FilesHandler{engine: engine}
}

// writeJSONBody is the JSON-mode write request (spec §4.E mode 1).
type writeJSONBody struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	Permissions uint32 `json:"permissions"`
}

// Write handles all three wire modes sharing one semantic: JSON body,
// raw octet-stream, and multipart form (spec §4.E "write").
func (h *FilesHandler) Write(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	switch {
	case contentType == "application/octet-stream":
		h.writeRaw(w, r)
	case isMultipart(contentType):
		h.writeMultipart(w, r)
	default:
		h.writeJSON(w, r)
	}
}

func isMultipart(contentType string) bool {
	return len(contentType) >= 19 && contentType[:19] == "multipart/form-data"
}

func (h *FilesHandler) writeJSON(w http.ResponseWriter, r *http.Request) {
	var body writeJSONBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	if body.Path == "" {
		writeError(w, apierr.Validation("path is required"))
		return
	}
	content, aerr := fileengine.DecodeContent(body.Content, body.Encoding)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	n, aerr := h.engine.Write(fileengine.WriteRequest{
		Path:        body.Path,
		Content:     content,
		Size:        -1,
		Permissions: os.FileMode(body.Permissions),
	})
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, map[string]any{"size": n})
}

func (h *FilesHandler) writeRaw(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apierr.Validation("path is required"))
		return
	}
	n, aerr := h.engine.Write(fileengine.WriteRequest{
		Path:    path,
		Content: r.Body,
		Size:    r.ContentLength,
	})
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, map[string]any{"size": n})
}

func (h *FilesHandler) writeMultipart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, apierr.Validation("invalid multipart form: "+err.Error()))
		return
	}
	path := r.FormValue("path")
	if path == "" {
		writeError(w, apierr.Validation("path is required"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, apierr.Validation("missing file part"))
		return
	}
	defer file.Close()

	n, aerr := h.engine.Write(fileengine.WriteRequest{Path: path, Content: file, Size: -1})
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, map[string]any{"size": n})
}

// Read handles the default JSON response and the ?stream=1 raw mode
// (spec §4.E "read").
func (h *FilesHandler) Read(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apierr.Validation("path is required"))
		return
	}

	if r.URL.Query().Get("stream") == "1" || prefersBinary(r) {
		h.readStream(w, r, path)
		return
	}

	result, aerr := h.engine.Read(path)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, map[string]any{
		"content":  encodedContent(result),
		"encoding": result.Encoding,
		"size":     result.Size,
		"mimeType": result.MimeType,
	})
}

func encodedContent(r *fileengine.ReadResult) string {
	if r.Encoding == "base64" {
		return base64Encode(r.Content)
	}
	return string(r.Content)
}

func prefersBinary(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "application/octet-stream"
}

func (h *FilesHandler) readStream(w http.ResponseWriter, r *http.Request, path string) {
	f, size, mimeType, aerr := h.engine.OpenStream(path)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

type listBody struct {
	Path          string `json:"path"`
	Recursive     bool   `json:"recursive"`
	IncludeHidden bool   `json:"includeHidden"`
}

func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	var body listBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	entries, aerr := h.engine.List(body.Path, body.Recursive, body.IncludeHidden)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, entries)
}

type deleteBody struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var body deleteBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	if aerr := h.engine.Delete(body.Path, body.Recursive); aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSONMessage(w, "deleted", nil)
}

type moveBody struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Overwrite   bool   `json:"overwrite"`
}

func (h *FilesHandler) Move(w http.ResponseWriter, r *http.Request) {
	var body moveBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	if aerr := h.engine.Move(body.Source, body.Destination, body.Overwrite); aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSONMessage(w, "moved", nil)
}

type renameBody struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

func (h *FilesHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var body renameBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	if aerr := h.engine.Rename(body.OldPath, body.NewPath); aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSONMessage(w, "renamed", nil)
}

type searchBody struct {
	Dir     string `json:"dir"`
	Pattern string `json:"pattern"`
}

func (h *FilesHandler) Search(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	matches, aerr := h.engine.Search(body.Dir, body.Pattern)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, matches)
}

type findBody struct {
	Dir        string `json:"dir"`
	Keyword    string `json:"keyword"`
	MaxResults int    `json:"maxResults"`
}

func (h *FilesHandler) Find(w http.ResponseWriter, r *http.Request) {
	var body findBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	results, aerr := h.engine.Find(r.Context(), body.Dir, body.Keyword, body.MaxResults)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, results)
}

type replaceBody struct {
	Files []string `json:"files"`
	From  string   `json:"from"`
	To    string   `json:"to"`
}

func (h *FilesHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var body replaceBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	results, aerr := h.engine.Replace(body.Files, body.From, body.To)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, results)
}
