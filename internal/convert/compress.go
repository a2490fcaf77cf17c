package convert

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/trackshift/platform/docgateway/internal/apperr"
	"github.com/trackshift/platform/docgateway/internal/executor"
)

// Ghostscript PDFSETTINGS presets the endpoint exposes.
var presets = map[string]bool{"screen": true, "ebook": true, "printer": true}

const defaultPreset = "ebook"

// NormalizePreset maps a client value onto a Ghostscript preset, with or
// without the leading slash. Unknown values become ebook.
func NormalizePreset(raw string) string {
	p := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "/"))
	if !presets[p] {
		p = defaultPreset
	}
	return "/" + p
}

func ghostscriptArgs(preset, in, out string) []string {
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=" + preset,
		"-dNOPAUSE", "-dQUIET", "-dBATCH",
		"-sOutputFile=" + out,
		in,
	}
}

// Compress rewrites the uploaded PDF through Ghostscript.
func (c *Converter) Compress(w http.ResponseWriter, r *http.Request) {
	b := batchOrFail(w, r)
	if b == nil {
		return
	}
	in, ok := requireFile(w, b, "file", "a PDF file is required")
	if !ok {
		return
	}
	logger := c.logger(b, "compress")
	preset := NormalizePreset(param(r, b, "preset"))

	dir, err := c.jobDir(b)
	if err != nil {
		apperr.Write(w, "compression failed", err)
		return
	}
	name := baseName(in.OriginalName, "document") + "-compressed.pdf"
	out := filepath.Join(dir, name)

	logger.Info().Str("preset", preset).Msg("compressing")
	_, runErr := c.d.Runner.Run(r.Context(), executor.Command{
		Name: c.d.Tools.Ghostscript,
		Args: ghostscriptArgs(preset, in.Path, out),
	})
	if runErr != nil {
		logger.Error().Err(runErr).Msg("ghostscript failed")
		apperr.Write(w, "compression failed", runErr)
		return
	}
	if _, err := os.Stat(out); err != nil {
		logger.Error().Err(err).Msg("ghostscript left no output")
		apperr.Write(w, "compression failed", &apperr.ToolError{
			Tool: c.d.Tools.Ghostscript,
			Err:  fmt.Errorf("no output at %s: %w", name, err),
		})
		return
	}
	if err := checkPDF(out); err != nil {
		logger.Error().Err(err).Msg("compressed output rejected")
		apperr.Write(w, "compression failed", err)
		return
	}
	c.serve(w, r, b, artifact{
		feature:     "compress",
		path:        out,
		name:        name,
		contentType: contentTypePDF,
	})
}
