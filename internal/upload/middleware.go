package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trackshift/platform/docgateway/internal/apperr"
	"github.com/trackshift/platform/docgateway/internal/dlp"
	"github.com/trackshift/platform/docgateway/internal/lifecycle"
)

// maxValueBytes caps the combined size of non-file form fields.
const maxValueBytes = 1 << 20

// File is one staged upload.
type File struct {
	Field        string
	OriginalName string
	MIME         string
	Path         string
	Size         int64
}

// Batch is everything the staging layer knows about one job.
type Batch struct {
	JobID   string
	Files   []File
	Values  map[string]string
	Tracker *lifecycle.Tracker
	Logger  zerolog.Logger
}

// File returns the staged upload for a form field.
func (b *Batch) File(field string) (File, bool) {
	for _, f := range b.Files {
		if f.Field == field {
			return f, true
		}
	}
	return File{}, false
}

// Value returns a non-file form field.
func (b *Batch) Value(key string) string {
	return b.Values[key]
}

type ctxKey int

const (
	batchKey ctxKey = iota
	jobIDKey
)

// WithJobID stores a job ID that the staging middleware will reuse.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobID returns the job ID stored by WithJobID, if any.
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}

// FromContext returns the Batch the staging middleware attached to ctx.
func FromContext(ctx context.Context) *Batch {
	b, _ := ctx.Value(batchKey).(*Batch)
	return b
}

// NewContext attaches b to ctx. Used by the middleware and by tests that
// drive handlers directly.
func NewContext(ctx context.Context, b *Batch) context.Context {
	return context.WithValue(ctx, batchKey, b)
}

// Stager writes accepted parts into a shared upload directory.
type Stager struct {
	dir     string
	scanner dlp.Scanner
	logger  zerolog.Logger
}

// NewStager creates dir if needed. scanner may be nil.
func NewStager(dir string, scanner dlp.Scanner, logger zerolog.Logger) (*Stager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Stager{dir: dir, scanner: scanner, logger: logger}, nil
}

// Dir is the shared staging directory.
func (s *Stager) Dir() string { return s.dir }

// Middleware validates uploads against p and stages file fields named in
// fields (any field when fields is empty). Every path created for the job is
// owned by the Batch tracker and released after next returns.
func (s *Stager) Middleware(p Policy, fields []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		allowed[f] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jobID := JobID(r.Context())
			if jobID == "" {
				jobID = uuid.NewString()
			}
			logger := s.logger.With().Str("job_id", jobID).Logger()
			tracker := lifecycle.NewTracker(logger)
			defer tracker.Cleanup()

			batch := &Batch{
				JobID:   jobID,
				Values:  map[string]string{},
				Tracker: tracker,
				Logger:  logger,
			}
			if p.Kind != KindNone && isMultipart(r) {
				if err := s.stage(r, p, allowed, batch); err != nil {
					logger.Warn().Err(err).Msg("upload rejected")
					apperr.Write(w, "upload failed", err)
					return
				}
			}
			ctx := logger.WithContext(NewContext(r.Context(), batch))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mt, "multipart/")
}

func (s *Stager) stage(r *http.Request, p Policy, allowed map[string]struct{}, b *Batch) error {
	mr, err := r.MultipartReader()
	if err != nil {
		return apperr.Validation("malformed multipart body: %v", err)
	}
	valueBudget := int64(maxValueBytes)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return apperr.Validation("malformed multipart body: %v", err)
		}
		field := part.FormName()
		if part.FileName() == "" {
			n, err := s.readValue(part, b, field, valueBudget)
			part.Close()
			if err != nil {
				return err
			}
			valueBudget -= n
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[field]; !ok {
				part.Close()
				return apperr.Validation("unexpected file field %q", field)
			}
		}
		if _, dup := b.File(field); dup {
			part.Close()
			return apperr.Validation("only one file is accepted for field %q", field)
		}
		f, err := s.stageFile(r.Context(), part, p, b)
		part.Close()
		if err != nil {
			return err
		}
		b.Files = append(b.Files, f)
	}
}

func (s *Stager) readValue(part io.Reader, b *Batch, field string, budget int64) (int64, error) {
	raw, err := io.ReadAll(io.LimitReader(part, budget+1))
	if err != nil {
		return 0, apperr.Validation("read form field %q: %v", field, err)
	}
	if int64(len(raw)) > budget {
		return 0, apperr.Validation("form fields exceed %d bytes", maxValueBytes)
	}
	if field != "" {
		b.Values[field] = string(raw)
	}
	return int64(len(raw)), nil
}

func (s *Stager) stageFile(ctx context.Context, part *multipart.Part, p Policy, b *Batch) (File, error) {
	name := part.FileName()
	mt := NormalizeMIME(part.Header.Get("Content-Type"), name)
	if err := p.Check(mt, name); err != nil {
		return File{}, err
	}

	dest := filepath.Join(s.dir, uuid.NewString()+"-"+SafeName(name))
	b.Tracker.Add(dest)
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return File{}, fmt.Errorf("stage upload: %w", err)
	}
	var src io.Reader = part
	if p.MaxBytes > 0 {
		src = io.LimitReader(part, p.MaxBytes+1)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		return File{}, apperr.Validation("upload interrupted: %v", copyErr)
	case closeErr != nil:
		return File{}, fmt.Errorf("stage upload: %w", closeErr)
	case p.MaxBytes > 0 && n > p.MaxBytes:
		return File{}, p.TooLarge(name)
	}

	f := File{Field: part.FormName(), OriginalName: name, MIME: mt, Path: dest, Size: n}
	if err := s.screen(ctx, b, f); err != nil {
		return File{}, err
	}
	b.Logger.Debug().Str("field", f.Field).Str("path", dest).Int64("bytes", n).Msg("upload staged")
	return f, nil
}

func (s *Stager) screen(ctx context.Context, b *Batch, f File) error {
	if s.scanner == nil {
		return nil
	}
	err := s.scanner.ScanUpload(ctx, dlp.Upload{
		JobID:    b.JobID,
		Field:    f.Field,
		FileName: f.OriginalName,
		Path:     f.Path,
		Size:     f.Size,
	})
	if err == nil {
		return nil
	}
	var violation *dlp.Violation
	if !errors.As(err, &violation) {
		return fmt.Errorf("upload scan failed: %w", err)
	}
	b.Logger.Warn().
		Str("rule", violation.Rule).
		Str("field", f.Field).
		Msg("dlp violation on upload")
	if s.scanner.Enforced() {
		return apperr.Validation("%s", violation.Error())
	}
	return nil
}

// SafeName turns a client filename into something safe to embed in a staged
// path: directory components are dropped and whitespace runs become "_".
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	inSpace := false
	for _, r := range name {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "upload"
	}
	return out
}
