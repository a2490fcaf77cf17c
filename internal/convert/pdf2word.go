package convert

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/trackshift/platform/docgateway/internal/apperr"
	"github.com/trackshift/platform/docgateway/internal/executor"
)

const pdf2docxScript = "pdf2docx_cli.py"

func truthyParam(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// PDFToWord converts the uploaded PDF to DOCX, optionally after an OCR pass.
func (c *Converter) PDFToWord(w http.ResponseWriter, r *http.Request) {
	b := batchOrFail(w, r)
	if b == nil {
		return
	}
	in, ok := requireFile(w, b, "file", "a PDF file is required")
	if !ok {
		return
	}
	logger := c.logger(b, "pdf2word")

	dir, err := c.jobDir(b)
	if err != nil {
		apperr.Write(w, "conversion failed", err)
		return
	}

	src := in.Path
	if truthyParam(param(r, b, "ocr")) {
		ocrOut := filepath.Join(dir, "ocr.pdf")
		if _, err := c.d.Runner.Run(r.Context(), executor.Command{
			Name: c.d.Tools.OCR,
			Args: []string{"--skip-text", src, ocrOut},
		}); err != nil {
			logger.Error().Err(err).Msg("ocr pre-pass failed")
			apperr.Write(w, "ocr failed", err)
			return
		}
		if _, err := os.Stat(ocrOut); err != nil {
			apperr.Write(w, "ocr failed", &apperr.ToolError{Tool: c.d.Tools.OCR, Err: err})
			return
		}
		src = ocrOut
	}

	out, err := executor.Chain(r.Context(), logger, "pdf2word", c.wordStrategies(dir, src)...)
	if err != nil {
		apperr.Write(w, "conversion failed", err)
		return
	}
	size, err := checkSize(out, minDOCXBytes)
	if err != nil {
		logger.Error().Err(err).Msg("docx output rejected")
		apperr.Write(w, "conversion failed", err)
		return
	}

	c.serve(w, r, b, artifact{
		feature:     "pdf2word",
		path:        out,
		name:        stem(in.OriginalName, "document") + ".docx",
		contentType: contentTypeDOCX,
		headers:     map[string]string{"X-Docx-Bytes": strconv.FormatInt(size, 10)},
	})
}

// wordStrategies are tried in order: LibreOffice with the PDF import filter,
// plain LibreOffice, then the Python converter. Each gets its own output dir
// so a half-written file from one attempt is never picked up by the next.
func (c *Converter) wordStrategies(dir, src string) []executor.Strategy {
	return []executor.Strategy{
		{
			Name: "soffice-writer-pdf-import",
			Run: func(ctx context.Context) (string, error) {
				return c.soffice(ctx, filepath.Join(dir, "lo-filtered"), src,
					"--infilter=writer_pdf_import", "--convert-to", `docx:MS Word 2007 XML`)
			},
		},
		{
			Name: "soffice",
			Run: func(ctx context.Context) (string, error) {
				return c.soffice(ctx, filepath.Join(dir, "lo-plain"), src, "--convert-to", "docx")
			},
		},
		{
			Name: "pdf2docx",
			Run: func(ctx context.Context) (string, error) {
				return c.pdf2docx(ctx, filepath.Join(dir, "py"), src)
			},
		},
	}
}

// soffice runs one headless LibreOffice conversion with a throwaway profile
// so concurrent jobs do not fight over the user installation lock.
func (c *Converter) soffice(ctx context.Context, outDir, src string, convertArgs ...string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	var out string
	err := executor.WithScratchDir(filepath.Dir(outDir), "lo-profile-", func(profile string) error {
		abs, err := filepath.Abs(profile)
		if err != nil {
			return err
		}
		args := []string{
			"--headless", "--norestore", "--nologo",
			"-env:UserInstallation=file://" + filepath.ToSlash(abs),
		}
		args = append(args, convertArgs...)
		args = append(args, "--outdir", outDir, src)
		out, err = executor.RunAndLocateOutput(ctx, c.d.Runner, executor.Command{
			Name: c.d.Tools.Soffice,
			Args: args,
		}, outDir, ".docx")
		return err
	})
	return out, err
}

func (c *Converter) pdf2docx(ctx context.Context, outDir, src string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))+".docx")
	return executor.RunAndLocateOutput(ctx, c.d.Runner, executor.Command{
		Name: c.d.Tools.Python,
		Args: []string{c.d.Tools.Script(pdf2docxScript), src, out},
		Env:  []string{"LANG=C.UTF-8"},
	}, outDir, ".docx")
}
