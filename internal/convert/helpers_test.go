package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/rs/zerolog"

	"github.com/trackshift/platform/docgateway/internal/config"
	"github.com/trackshift/platform/docgateway/internal/executor"
	"github.com/trackshift/platform/docgateway/internal/upload"
)

// scriptedRunner answers each command with fn and records the calls.
type scriptedRunner struct {
	mu    sync.Mutex
	calls []executor.Command
	fn    func(executor.Command) (executor.Result, error)
}

func (s *scriptedRunner) Run(_ context.Context, c executor.Command) (executor.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	if s.fn == nil {
		return executor.Result{}, nil
	}
	return s.fn(c)
}

func (s *scriptedRunner) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Name
	}
	return out
}

func testTools() config.Tools {
	return config.Tools{
		Ghostscript: "gs",
		Soffice:     "soffice",
		OCR:         "ocrmypdf",
		Python:      "python3",
		ScriptsDir:  "tools",
	}
}

type env struct {
	dir    string
	conv   *Converter
	stager *upload.Stager
}

func newEnv(t *testing.T, r executor.Runner) *env {
	t.Helper()
	dir := t.TempDir()
	st, err := upload.NewStager(dir, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	conv := New(Deps{
		Runner:  r,
		Tools:   testTools(),
		WorkDir: dir,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return time.Date(2026, 10, 14, 9, 30, 15, 250e6, time.UTC) },
	})
	return &env{dir: dir, conv: conv, stager: st}
}

func (e *env) handler(t *testing.T, kind upload.Kind, fields []string, h http.HandlerFunc) http.Handler {
	t.Helper()
	p, err := upload.DefaultRegistry().PolicyFor(kind)
	if err != nil {
		t.Fatal(err)
	}
	return e.stager.Middleware(p, fields)(h)
}

// assertNoLeftovers checks every staged and produced path is gone.
func (e *env) assertNoLeftovers(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, en := range entries {
		names = append(names, en.Name())
	}
	if len(names) > 0 {
		t.Errorf("temp files leaked: %v", names)
	}
}

type filePart struct {
	field, name, ctype string
	body               []byte
}

func post(t *testing.T, h http.Handler, target string, parts ...filePart) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, target, parts...))
	return rec
}

func multipartRequest(t *testing.T, target string, parts ...filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.field, p.name))
		if p.ctype != "" {
			hdr.Set("Content-Type", p.ctype)
		}
		w, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(p.body)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error, body.Detail
}

// makePDF builds a PDF with one page per label, the label drawn as text.
func makePDF(t *testing.T, labels ...string) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 24)
	for _, l := range labels {
		doc.AddPage()
		doc.Text(20, 30, l)
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("makePDF: %v", err)
	}
	return buf.Bytes()
}

func writePDF(t *testing.T, path string, labels ...string) {
	t.Helper()
	if err := os.WriteFile(path, makePDF(t, labels...), 0o600); err != nil {
		t.Fatal(err)
	}
}

// makePNG returns a w x h PNG filled with a deterministic pattern.
func makePNG(t *testing.T, w, h int, noisy bool) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(2463534242)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{uint8(x), uint8(y), uint8(x + y), 255}
			if noisy {
				seed ^= seed << 13
				seed ^= seed >> 17
				seed ^= seed << 5
				c = color.RGBA{uint8(seed), uint8(seed >> 8), uint8(seed >> 16), 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// argAfter returns the argument following flag.
func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func argWithPrefix(args []string, prefix string) string {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return strings.TrimPrefix(a, prefix)
		}
	}
	return ""
}

// sofficeOutput is where LibreOffice would write the converted input.
func sofficeOutput(args []string, ext string) string {
	src := args[len(args)-1]
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(argAfter(args, "--outdir"), base+ext)
}
