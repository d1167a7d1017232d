// Package fileengine implements the file-operation layer: read, write,
// list, delete, move, rename, filename search, content search (find), and
// in-place replace (spec §4.E). Every operation funnels through a
// pathguard.Guard so no path escapes the workspace root.
package fileengine

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
	"github.com/arkeep-io/sandboxagent/internal/pathguard"
)

// Entry is a single file-system entry as returned by List (spec §3,
// "File entry").
type Entry struct {
	Path     string      `json:"path"`
	IsDir    bool        `json:"isDir"`
	Size     int64       `json:"size"`
	ModeBits os.FileMode `json:"modeBits"`
	MTime    time.Time   `json:"mtime"`
}

// Engine implements the file engine. It shares one concurrency limiter
// with the content-search path, sized to MAX_CONCURRENT_READS (spec §5).
type Engine struct {
	guard       *pathguard.Guard
	maxFileSize int64
	limiter     *semaphore.Weighted
}

// New creates an Engine rooted at guard's workspace, enforcing
// maxFileSize on writes and maxConcurrentReads as the shared limiter size.
func New(guard *pathguard.Guard, maxFileSize int64, maxConcurrentReads int) *Engine {
	return &Engine{
		guard:       guard,
		maxFileSize: maxFileSize,
		limiter:     semaphore.NewWeighted(int64(maxConcurrentReads)),
	}
}

func (e *Engine) resolve(p string) (string, *apierr.Error) {
	abs, err := e.guard.Resolve(p)
	if err != nil {
		var trav *pathguard.TraversalError
		if errors.As(err, &trav) {
			return "", apierr.Forbidden("path traversal: " + p)
		}
		return "", apierr.Operation("failed to resolve path", err)
	}
	return abs, nil
}

// --- Write -------------------------------------------------------------

// WriteRequest carries the normalized inputs shared by all three wire
// modes documented in spec §4.E.
type WriteRequest struct {
	Path        string
	Content     io.Reader
	Size        int64 // -1 if unknown; informational only — Write caps the bytes it actually reads at MAX_FILE_SIZE
	Permissions os.FileMode
}

// Write writes content to path, creating parent directories as needed,
// enforcing the MAX_FILE_SIZE cap, and failing if path already exists as
// a directory (spec §4.E edge cases).
func (e *Engine) Write(req WriteRequest) (int64, *apierr.Error) {
	abs, aerr := e.resolve(req.Path)
	if aerr != nil {
		return 0, aerr
	}

	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return 0, apierr.InvalidRequest("cannot write: path is a directory")
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, apierr.Operation("failed to create parent directories", err)
	}

	perm := req.Permissions
	if perm == 0 {
		perm = 0o644
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".sandboxagent-write-*")
	if err != nil {
		return 0, apierr.Operation("failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	limited := io.LimitReader(req.Content, e.maxFileSize+1)
	n, err := io.Copy(tmp, limited)
	if err != nil {
		tmp.Close()
		return 0, apierr.Operation("failed to write file", err)
	}
	if n > e.maxFileSize {
		tmp.Close()
		return 0, apierr.TooLarge("upload exceeds MAX_FILE_SIZE")
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return 0, apierr.Operation("failed to set file permissions", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, apierr.Operation("failed to finalize file", err)
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		return 0, apierr.Operation("failed to finalize file", err)
	}
	return n, nil
}

// DecodeContent converts the JSON-mode {content, encoding} pair into a
// byte reader, per spec §4.E mode 1.
func DecodeContent(content, encoding string) (io.Reader, *apierr.Error) {
	switch encoding {
	case "", "utf8":
		return strings.NewReader(content), nil
	case "base64":
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, apierr.Validation("invalid base64 content")
		}
		return bytes.NewReader(raw), nil
	default:
		return nil, apierr.Validation("unsupported encoding: " + encoding)
	}
}

// --- Read ----------------------------------------------------------------

// ReadResult carries the bytes and metadata needed by either JSON or
// stream response negotiation (spec §4.E).
type ReadResult struct {
	Content  []byte
	Encoding string
	Size     int64
	MimeType string
}

// Read reads the full content of path. Directories are rejected.
func (e *Engine) Read(path string) (*ReadResult, *apierr.Error) {
	abs, aerr := e.resolve(path)
	if aerr != nil {
		return nil, aerr
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.NotFound("file not found: " + path)
		}
		return nil, apierr.Operation("failed to stat file", err)
	}
	if info.IsDir() {
		return nil, apierr.InvalidRequest("cannot read: path is a directory")
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, apierr.Operation("failed to read file", err)
	}

	mimeType := detectMimeType(abs, data)
	encoding := "utf8"
	if !utf8.Valid(data) {
		encoding = "base64"
	}

	return &ReadResult{
		Content:  data,
		Encoding: encoding,
		Size:     info.Size(),
		MimeType: mimeType,
	}, nil
}

// OpenStream opens path for raw byte streaming (the ?stream=1 mode) and
// returns the file, its size, and detected MIME type. Caller closes f.
func (e *Engine) OpenStream(path string) (f *os.File, size int64, mimeType string, aerr *apierr.Error) {
	abs, aerr := e.resolve(path)
	if aerr != nil {
		return nil, 0, "", aerr
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, "", apierr.NotFound("file not found: " + path)
		}
		return nil, 0, "", apierr.Operation("failed to stat file", err)
	}
	if info.IsDir() {
		return nil, 0, "", apierr.InvalidRequest("cannot read: path is a directory")
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, 0, "", apierr.Operation("failed to open file", err)
	}
	head := make([]byte, 512)
	n, _ := file.Read(head)
	file.Seek(0, io.SeekStart)
	return file, info.Size(), detectMimeType(abs, head[:n]), nil
}

func detectMimeType(path string, sample []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(sample)
}

// --- List ------------------------------------------------------------------

// List returns entries under path, relative to the workspace root,
// sorted lexicographically within each directory. Hidden (dot-prefixed)
// entries are excluded unless includeHidden is set (spec §4.E).
func (e *Engine) List(path string, recursive, includeHidden bool) ([]Entry, *apierr.Error) {
	abs, aerr := e.resolve(path)
	if aerr != nil {
		return nil, aerr
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.NotFound("path not found: " + path)
		}
		return nil, apierr.Operation("failed to stat path", err)
	}

	if !info.IsDir() {
		rel, _ := e.guard.Rel(abs)
		return []Entry{toEntry(rel, info)}, nil
	}

	var entries []Entry
	if recursive {
		err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == abs {
				return nil
			}
			if !includeHidden && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			fi, ferr := d.Info()
			if ferr != nil {
				return ferr
			}
			rel, _ := e.guard.Rel(p)
			entries = append(entries, toEntry(rel, fi))
			return nil
		})
		if err != nil {
			return nil, apierr.Operation("failed to walk directory", err)
		}
	} else {
		dirEntries, err := os.ReadDir(abs)
		if err != nil {
			return nil, apierr.Operation("failed to read directory", err)
		}
		for _, d := range dirEntries {
			if !includeHidden && strings.HasPrefix(d.Name(), ".") {
				continue
			}
			fi, ferr := d.Info()
			if ferr != nil {
				continue
			}
			rel, _ := e.guard.Rel(filepath.Join(abs, d.Name()))
			entries = append(entries, toEntry(rel, fi))
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func toEntry(relPath string, info os.FileInfo) Entry {
	return Entry{
		Path:     relPath,
		IsDir:    info.IsDir(),
		Size:     info.Size(),
		ModeBits: info.Mode(),
		MTime:    info.ModTime(),
	}
}

// --- Delete ------------------------------------------------------------

// Delete removes path. Removing a non-empty directory without recursive
// set yields a conflict (spec §4.E).
func (e *Engine) Delete(path string, recursive bool) *apierr.Error {
	abs, aerr := e.resolve(path)
	if aerr != nil {
		return aerr
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return apierr.NotFound("path not found: " + path)
		}
		return apierr.Operation("failed to stat path", err)
	}

	if info.IsDir() && !recursive {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return apierr.Operation("failed to read directory", err)
		}
		if len(entries) > 0 {
			return apierr.Conflict("directory is not empty")
		}
		if err := os.Remove(abs); err != nil {
			return apierr.Operation("failed to delete directory", err)
		}
		return nil
	}

	if recursive {
		if err := os.RemoveAll(abs); err != nil {
			return apierr.Operation("failed to delete path", err)
		}
		return nil
	}

	if err := os.Remove(abs); err != nil {
		return apierr.Operation("failed to delete file", err)
	}
	return nil
}

// --- Move / Rename -------------------------------------------------------

// Move relocates source to destination. Cross-device moves fall back to
// copy+unlink; a failed copy leaves the source intact and removes the
// partial destination (spec §4.E, §7).
func (e *Engine) Move(source, destination string, overwrite bool) *apierr.Error {
	return e.moveOrRename(source, destination, overwrite)
}

// Rename is Move with overwrite always false, matching the distinct
// oldPath/newPath wire shape (spec §6).
func (e *Engine) Rename(oldPath, newPath string) *apierr.Error {
	return e.moveOrRename(oldPath, newPath, false)
}

func (e *Engine) moveOrRename(source, destination string, overwrite bool) *apierr.Error {
	srcAbs, aerr := e.resolve(source)
	if aerr != nil {
		return aerr
	}
	dstAbs, aerr := e.resolve(destination)
	if aerr != nil {
		return aerr
	}

	if _, err := os.Stat(srcAbs); err != nil {
		if os.IsNotExist(err) {
			return apierr.NotFound("source not found: " + source)
		}
		return apierr.Operation("failed to stat source", err)
	}

	if _, err := os.Stat(dstAbs); err == nil {
		if !overwrite {
			return apierr.Conflict("destination already exists: " + destination)
		}
		if err := os.RemoveAll(dstAbs); err != nil {
			return apierr.Operation("failed to remove existing destination", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return apierr.Operation("failed to create destination parent", err)
	}

	if err := os.Rename(srcAbs, dstAbs); err != nil {
		if isCrossDevice(err) {
			return e.copyThenUnlink(srcAbs, dstAbs)
		}
		return apierr.Operation("failed to move path", err)
	}
	return nil
}

func (e *Engine) copyThenUnlink(srcAbs, dstAbs string) *apierr.Error {
	if err := copyTree(srcAbs, dstAbs); err != nil {
		os.RemoveAll(dstAbs)
		return apierr.Operation("failed to copy across devices", err)
	}
	if err := os.RemoveAll(srcAbs); err != nil {
		return apierr.Operation("copy succeeded but failed to remove source", err)
	}
	return nil
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}
	if err := os.MkdirAll(dst, info.Mode()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func isCrossDevice(err error) bool {
	return errors.Is(err, os.ErrInvalid) || strings.Contains(err.Error(), "cross-device")
}

// --- Search (filename) ---------------------------------------------------

// Search walks dir for file base names containing pattern
// (case-insensitive substring), returning paths relative to the
// workspace root (spec §4.E).
func (e *Engine) Search(dir, pattern string) ([]string, *apierr.Error) {
	abs, aerr := e.resolve(dir)
	if aerr != nil {
		return nil, aerr
	}

	needle := strings.ToLower(pattern)
	var matches []string

	err := filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.Contains(strings.ToLower(d.Name()), needle) {
			rel, relErr := e.guard.Rel(p)
			if relErr == nil {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apierr.Operation("failed to search directory", err)
	}
	return matches, nil
}

// --- Find (content) --------------------------------------------------------

// FindResult is a single content-search hit.
type FindResult struct {
	Path string `json:"path"`
}

// Find reads files concurrently under dir (bounded by the shared
// limiter), looking for keyword. Files whose initial block fails UTF-8
// validation are skipped silently. Results are unordered — no stable
// sort guarantee (spec §4.E).
func (e *Engine) Find(ctx context.Context, dir, keyword string, maxResults int) ([]FindResult, *apierr.Error) {
	abs, aerr := e.resolve(dir)
	if aerr != nil {
		return nil, aerr
	}

	type hit struct {
		path string
		ok   bool
	}

	var paths []string
	err := filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, apierr.Operation("failed to walk directory", err)
	}

	resultsCh := make(chan hit, len(paths))
	var pending int

	for _, p := range paths {
		p := p
		if err := e.limiter.Acquire(ctx, 1); err != nil {
			break
		}
		pending++
		go func() {
			defer e.limiter.Release(1)
			resultsCh <- hit{path: p, ok: fileContainsKeyword(p, keyword)}
		}()
	}

	var results []FindResult
	for i := 0; i < pending; i++ {
		h := <-resultsCh
		if h.ok {
			rel, relErr := e.guard.Rel(h.path)
			if relErr == nil {
				results = append(results, FindResult{Path: rel})
			}
		}
		if maxResults > 0 && len(results) >= maxResults {
			break
		}
	}
	return results, nil
}

func fileContainsKeyword(path, keyword string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 8192)
	n, _ := f.Read(head)
	if !utf8.Valid(head[:n]) {
		return false
	}

	if strings.Contains(string(head[:n]), keyword) {
		return true
	}

	rest, err := io.ReadAll(f)
	if err != nil {
		return false
	}
	return strings.Contains(string(rest), keyword)
}

// --- Replace ----------------------------------------------------------------

// ReplaceResult reports the outcome for a single file in a Replace call.
type ReplaceResult struct {
	Path  string `json:"path"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Replace performs a literal replace-all of from -> to in each listed
// file. Non-UTF-8 files are skipped with a per-file error; others
// continue. Each write is atomic (temp file in the same directory,
// renamed into place) (spec §4.E).
func (e *Engine) Replace(files []string, from, to string) ([]ReplaceResult, *apierr.Error) {
	if from == "" {
		return nil, apierr.Validation("from must not be empty")
	}

	results := make([]ReplaceResult, 0, len(files))
	for _, path := range files {
		abs, aerr := e.resolve(path)
		if aerr != nil {
			results = append(results, ReplaceResult{Path: path, OK: false, Error: aerr.Message})
			continue
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			results = append(results, ReplaceResult{Path: path, OK: false, Error: "failed to read file"})
			continue
		}
		if !utf8.Valid(data) {
			results = append(results, ReplaceResult{Path: path, OK: false, Error: "not valid utf-8"})
			continue
		}

		replaced := bytes.ReplaceAll(data, []byte(from), []byte(to))

		info, err := os.Stat(abs)
		perm := os.FileMode(0o644)
		if err == nil {
			perm = info.Mode()
		}

		if err := atomicWrite(abs, replaced, perm); err != nil {
			results = append(results, ReplaceResult{Path: path, OK: false, Error: "failed to write file"})
			continue
		}
		results = append(results, ReplaceResult{Path: path, OK: true})
	}
	return results, nil
}

func atomicWrite(abs string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, ".sandboxagent-replace-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, abs)
}
