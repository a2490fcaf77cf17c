package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/trackshift/platform/docgateway/internal/dlp"
)

type part struct {
	field, name, ctype string
	body               []byte
}

func multipartRequest(t *testing.T, values map[string]string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.field, p.name))
		if p.ctype != "" {
			h.Set("Content-Type", p.ctype)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(p.body)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newStager(t *testing.T, scanner dlp.Scanner) (*Stager, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStager(dir, scanner, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s, dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("upload dir not empty: %d entries left", len(entries))
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestMiddleware_StagesAndCleansUp(t *testing.T) {
	s, dir := newStager(t, nil)
	p, _ := DefaultRegistry().PolicyFor(KindPDF)

	var seen *Batch
	var stagedExisted bool
	h := s.Middleware(p, []string{"file"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		f, ok := seen.File("file")
		if !ok {
			t.Error("file field not staged")
			return
		}
		_, err := os.Stat(f.Path)
		stagedExisted = err == nil
		w.WriteHeader(http.StatusOK)
	}))

	req := multipartRequest(t, map[string]string{"preset": "screen"},
		part{field: "file", name: "my doc.pdf", ctype: "application/pdf", body: []byte("%PDF-1.4 test")})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if !stagedExisted {
		t.Error("handler could not see the staged file")
	}
	f, _ := seen.File("file")
	if !strings.HasSuffix(f.Path, "-my_doc.pdf") || f.Size != int64(len("%PDF-1.4 test")) {
		t.Errorf("staged file = %+v", f)
	}
	if seen.Value("preset") != "screen" {
		t.Errorf("preset = %q", seen.Value("preset"))
	}
	if seen.JobID == "" {
		t.Error("job id not assigned")
	}
	st := seen.Tracker.Cleanup()
	if st.Registered != 1 || st.Removed != 1 {
		t.Errorf("cleanup stats = %+v", st)
	}
	assertEmptyDir(t, dir)
}

func TestMiddleware_RejectsWrongTypeBeforeHandler(t *testing.T) {
	s, dir := newStager(t, nil)
	p, _ := DefaultRegistry().PolicyFor(KindDOCX)

	called := false
	h := s.Middleware(p, []string{"file"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, nil, part{field: "file", name: "notes.txt", ctype: "text/plain", body: []byte("hi")}))

	if called {
		t.Error("handler ran for a rejected upload")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "only DOCX files are accepted" {
		t.Errorf("error = %q", msg)
	}
	assertEmptyDir(t, dir)
}

func TestMiddleware_RejectsOversizeBeforeHandler(t *testing.T) {
	s, dir := newStager(t, nil)
	p := Policy{Kind: KindPDF, MaxBytes: 16, Accept: func(string, string) bool { return true }}

	called := false
	h := s.Middleware(p, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, nil, part{field: "file", name: "big.pdf", ctype: "application/pdf", body: bytes.Repeat([]byte("x"), 17)}))

	if called {
		t.Error("handler ran for an oversize upload")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	assertEmptyDir(t, dir)
}

func TestMiddleware_ExactLimitAccepted(t *testing.T) {
	s, _ := newStager(t, nil)
	p := Policy{Kind: KindPDF, MaxBytes: 16}

	h := s.Middleware(p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, nil, part{field: "file", name: "ok.pdf", body: bytes.Repeat([]byte("x"), 16)}))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestMiddleware_UnexpectedAndDuplicateFields(t *testing.T) {
	s, dir := newStager(t, nil)
	p, _ := DefaultRegistry().PolicyFor(KindPDF)
	h := s.Middleware(p, []string{"file1", "file2"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run")
	}))

	pdf := []byte("%PDF")
	for name, req := range map[string]*http.Request{
		"unexpected": multipartRequest(t, nil, part{field: "other", name: "a.pdf", ctype: "application/pdf", body: pdf}),
		"duplicate": multipartRequest(t, nil,
			part{field: "file1", name: "a.pdf", ctype: "application/pdf", body: pdf},
			part{field: "file1", name: "b.pdf", ctype: "application/pdf", body: pdf}),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
	assertEmptyDir(t, dir)
}

func TestMiddleware_KindNonePassesThrough(t *testing.T) {
	s, dir := newStager(t, nil)
	p, _ := DefaultRegistry().PolicyFor(KindNone)

	var files int
	h := s.Middleware(p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		files = len(FromContext(r.Context()).Files)
	}))
	h.ServeHTTP(httptest.NewRecorder(), multipartRequest(t, nil, part{field: "file", name: "x.exe", body: []byte("MZ")}))

	if files != 0 {
		t.Errorf("kind none staged %d files", files)
	}
	assertEmptyDir(t, dir)
}

func TestMiddleware_ReusesJobIDFromContext(t *testing.T) {
	s, _ := newStager(t, nil)
	p, _ := DefaultRegistry().PolicyFor(KindPDF)

	var got string
	h := s.Middleware(p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context()).JobID
	}))
	req := multipartRequest(t, nil)
	req = req.WithContext(WithJobID(context.Background(), "job-42"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "job-42" {
		t.Errorf("JobID = %q", got)
	}
}

func TestMiddleware_DLPEnforcedAndMonitor(t *testing.T) {
	p, _ := DefaultRegistry().PolicyFor(KindPDF)
	body := []byte("%PDF-1.4 EVIL-PAYLOAD")

	for _, enforce := range []bool{true, false} {
		s, dir := newStager(t, dlp.NewRuleScanner(nil, 0, []string{"EVIL-PAYLOAD"}, enforce))
		called := false
		h := s.Middleware(p, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			called = true
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, multipartRequest(t, nil, part{field: "file", name: "a.pdf", ctype: "application/pdf", body: body}))

		if enforce && (called || rec.Code != http.StatusBadRequest) {
			t.Errorf("enforced: called=%v status=%d", called, rec.Code)
		}
		if !enforce && !called {
			t.Error("monitor mode should let the upload through")
		}
		assertEmptyDir(t, dir)
	}
}
