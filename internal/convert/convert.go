// Package convert holds the HTTP handlers of the conversion features. Each
// handler reads the staged upload from the request context, produces one
// artifact inside the job directory and streams it back.
package convert

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackshift/platform/docgateway/internal/apperr"
	"github.com/trackshift/platform/docgateway/internal/config"
	"github.com/trackshift/platform/docgateway/internal/connectors"
	"github.com/trackshift/platform/docgateway/internal/executor"
	"github.com/trackshift/platform/docgateway/internal/upload"
)

const (
	contentTypePDF  = "application/pdf"
	contentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Runner  executor.Runner
	Tools   config.Tools
	WorkDir string // job directories are created here
	Archive *connectors.Archive
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Converter serves the conversion endpoints.
type Converter struct {
	d Deps
}

// New returns a Converter. A nil Now defaults to time.Now.
func New(d Deps) *Converter {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Converter{d: d}
}

// artifact is a produced file ready to be streamed.
type artifact struct {
	feature     string
	path        string
	name        string
	contentType string
	headers     map[string]string
}

func batchOrFail(w http.ResponseWriter, r *http.Request) *upload.Batch {
	b := upload.FromContext(r.Context())
	if b == nil {
		apperr.Write(w, "request was not staged", fmt.Errorf("no upload batch in context"))
	}
	return b
}

// requireFile returns the staged file or writes the 400 for a missing one.
func requireFile(w http.ResponseWriter, b *upload.Batch, field, msg string) (upload.File, bool) {
	f, ok := b.File(field)
	if !ok {
		apperr.Write(w, "", apperr.Validation("%s", msg))
	}
	return f, ok
}

// param reads a query parameter, falling back to a multipart form value.
func param(r *http.Request, b *upload.Batch, key string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return b.Value(key)
}

// jobDir creates the per-job output directory and hands it to the tracker.
func (c *Converter) jobDir(b *upload.Batch) (string, error) {
	dir := filepath.Join(c.d.WorkDir, "job-"+b.JobID)
	b.Tracker.Add(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

func (c *Converter) logger(b *upload.Batch, feature string) zerolog.Logger {
	return b.Logger.With().Str("feature", feature).Logger()
}

// serve streams a to the client and then archives it. Nothing is written if
// the client already went away.
func (c *Converter) serve(w http.ResponseWriter, r *http.Request, b *upload.Batch, a artifact) {
	logger := c.logger(b, a.feature)
	if err := r.Context().Err(); err != nil {
		logger.Info().Err(err).Msg("client gone before streaming")
		return
	}
	f, err := os.Open(a.path)
	if err != nil {
		apperr.Write(w, "could not read converted file", err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		apperr.Write(w, "could not read converted file", err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", a.contentType)
	h.Set("Content-Disposition", attachment(a.name))
	h.Set("Content-Length", strconv.FormatInt(st.Size(), 10))
	for k, v := range a.headers {
		h.Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, f)
	if err != nil {
		logger.Warn().Err(err).Int64("sent", n).Msg("stream interrupted")
		return
	}
	logger.Info().Str("path", a.path).Int64("bytes", n).Msg("artifact streamed")

	c.d.Archive.Store(r.Context(), connectors.Artifact{
		JobID:       b.JobID,
		Feature:     a.feature,
		Name:        a.name,
		ContentType: a.contentType,
		Path:        a.path,
		Size:        n,
	})
}

// attachment builds a Content-Disposition value with an ASCII filename and
// an RFC 5987 filename* for the UTF-8 original.
func attachment(name string) string {
	var fallback strings.Builder
	for _, r := range name {
		switch {
		case r == '"' || r == '\\' || r < 0x20 || r > 0x7e:
			fallback.WriteByte('_')
		default:
			fallback.WriteRune(r)
		}
	}
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fallback.String(), encodeRFC5987(name))
}

func encodeRFC5987(s string) string {
	const attrChars = "!#$&+-.^_`|~"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || strings.IndexByte(attrChars, ch) >= 0 {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", ch)
	}
	return b.String()
}

var unsafeBaseChars = regexp.MustCompile(`[^\w\-]+`)

// baseName strips the extension from a client filename and squashes anything
// outside [A-Za-z0-9_-] into "_". Empty results become fallback.
func baseName(original, fallback string) string {
	name := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = unsafeBaseChars.ReplaceAllString(name, "_")
	if strings.Trim(name, "_") == "" {
		return fallback
	}
	return name
}

// stem strips the extension but keeps the rest of the client filename for
// display in the download name.
func stem(original, fallback string) string {
	name := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if strings.TrimSpace(name) == "" || name == "." {
		return fallback
	}
	return name
}
