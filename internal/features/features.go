// Package features mounts the conversion endpoints. Each feature is a
// registration in an explicit table; the loader turns registrations into
// descriptors, screens them and composes the survivors onto the router.
package features

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/trackshift/platform/docgateway/internal/convert"
	"github.com/trackshift/platform/docgateway/internal/flags"
	"github.com/trackshift/platform/docgateway/internal/upload"
)

// Descriptor is what a factory hands back: where to mount, which upload
// policy guards it and the handler itself.
type Descriptor struct {
	Name       string // falls back to the registration source
	MountPath  string
	UploadKind upload.Kind
	Fields     []string // accepted file fields, empty means any
	Handler    http.Handler
}

// Context is the capability set a factory receives.
type Context struct {
	UploadDir string
	Policies  *upload.Registry
	Flags     *flags.Resolver
	Converter *convert.Converter
	Logger    zerolog.Logger
}

// Factory builds one descriptor.
type Factory func(Context) (*Descriptor, error)

// Registration ties a factory to the name it is reported under.
type Registration struct {
	Source  string
	Factory Factory
}

var errNoConverter = errors.New("no converter configured")

// Builtin is the registration table of the shipped features.
func Builtin() []Registration {
	return []Registration{
		{Source: "compress", Factory: handlerFeature("compress", "/api/compress", upload.KindPDF, []string{"file"},
			func(c *convert.Converter) http.HandlerFunc { return c.Compress })},
		{Source: "docx2excel", Factory: handlerFeature("docx2excel", "/api/docx2excel", upload.KindDOCX, []string{"file"},
			func(c *convert.Converter) http.HandlerFunc { return c.DOCXToExcel })},
		{Source: "img2pdf", Factory: handlerFeature("img2pdf", "/api/img2pdf", upload.KindImage, []string{"file"},
			func(c *convert.Converter) http.HandlerFunc { return c.ImageToPDF })},
		{Source: "merge-two", Factory: handlerFeature("merge_two", "/api/merge-two", upload.KindPDF, []string{"file1", "file2"},
			func(c *convert.Converter) http.HandlerFunc { return c.MergeTwo })},
		{Source: "pdf2word", Factory: handlerFeature("pdf2word", "/api/pdf2word", upload.KindPDF, []string{"file"},
			func(c *convert.Converter) http.HandlerFunc { return c.PDFToWord })},
	}
}

func handlerFeature(name, path string, kind upload.Kind, fields []string, pick func(*convert.Converter) http.HandlerFunc) Factory {
	return func(ctx Context) (*Descriptor, error) {
		if ctx.Converter == nil {
			return nil, errNoConverter
		}
		return &Descriptor{
			Name:       name,
			MountPath:  path,
			UploadKind: kind,
			Fields:     fields,
			Handler:    pick(ctx.Converter),
		}, nil
	}
}
