// Package upload validates and stages multipart uploads for conversion jobs.
package upload

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/trackshift/platform/docgateway/internal/apperr"
)

// Kind is the declared upload type of a feature.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "img"
	KindDOCX  Kind = "docx"
	KindNone  Kind = "none"
)

const mb = 1 << 20

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
)

// ErrUnknownKind is returned by PolicyFor for kinds with no policy.
var ErrUnknownKind = errors.New("unknown upload kind")

// Policy is the validation rule set for one upload kind.
type Policy struct {
	Kind     Kind
	MaxBytes int64
	Accept   func(mimeType, filename string) bool
	// Reject is the message returned when Accept says no.
	Reject string
}

// Check applies Accept to a declared MIME type and filename.
func (p Policy) Check(mimeType, filename string) error {
	if p.Accept == nil || p.Accept(mimeType, filename) {
		return nil
	}
	return apperr.UnsupportedMediaType(p.Reject)
}

// TooLarge is the error for an upload past MaxBytes.
func (p Policy) TooLarge(filename string) error {
	return apperr.Validation("%s exceeds the %d MB upload limit", filename, p.MaxBytes/mb)
}

// Registry maps kinds to policies. It is immutable once built.
type Registry struct {
	policies map[Kind]Policy
}

// DefaultRegistry returns the built-in pdf, img, docx and none policies.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Policy{
			Kind:     KindPDF,
			MaxBytes: 50 * mb,
			Accept:   func(m, _ string) bool { return m == mimePDF },
			Reject:   "only PDF files are accepted",
		},
		Policy{
			Kind:     KindImage,
			MaxBytes: 30 * mb,
			Accept:   func(m, _ string) bool { return m == mimeJPEG || m == mimePNG },
			Reject:   "only JPG or PNG images are accepted",
		},
		Policy{
			Kind:     KindDOCX,
			MaxBytes: 30 * mb,
			Accept: func(m, name string) bool {
				return m == mimeDOCX || strings.HasSuffix(strings.ToLower(name), ".docx")
			},
			Reject: "only DOCX files are accepted",
		},
		Policy{Kind: KindNone},
	)
}

// NewRegistry builds a registry from explicit policies.
func NewRegistry(policies ...Policy) *Registry {
	m := make(map[Kind]Policy, len(policies))
	for _, p := range policies {
		m[p.Kind] = p
	}
	return &Registry{policies: m}
}

// PolicyFor returns the policy for kind.
func (r *Registry) PolicyFor(kind Kind) (Policy, error) {
	p, ok := r.policies[kind]
	if !ok {
		return Policy{}, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	return p, nil
}

// NormalizeMIME lowercases the declared type and drops parameters. An empty
// or generic octet-stream type is replaced by a lookup on the filename
// extension.
func NormalizeMIME(declared, filename string) string {
	m := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(m); err == nil {
		m = parsed
	}
	if m == "image/jpg" || m == "image/pjpeg" {
		m = mimeJPEG
	}
	if m != "" && m != "application/octet-stream" {
		return m
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg":
		return mimeJPEG
	case ".docx":
		return mimeDOCX
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		if parsed, _, err := mime.ParseMediaType(byExt); err == nil {
			return parsed
		}
	}
	return m
}
