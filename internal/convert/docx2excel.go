package convert

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/trackshift/platform/docgateway/internal/apperr"
	"github.com/trackshift/platform/docgateway/internal/executor"
)

const docx2excelScript = "docx2excel_cli.py"

// DOCXToExcel extracts the tables of the uploaded DOCX into a workbook.
// There is no fallback converter; the script's stderr is the detail.
func (c *Converter) DOCXToExcel(w http.ResponseWriter, r *http.Request) {
	b := batchOrFail(w, r)
	if b == nil {
		return
	}
	in, ok := requireFile(w, b, "file", `a .docx file is required (field "file")`)
	if !ok {
		return
	}
	logger := c.logger(b, "docx2excel")

	dir, err := c.jobDir(b)
	if err != nil {
		apperr.Write(w, "DOCX to Excel conversion failed", err)
		return
	}
	name := baseName(in.OriginalName, "document") + ".xlsx"
	out := filepath.Join(dir, name)

	if _, err := c.d.Runner.Run(r.Context(), executor.Command{
		Name: c.d.Tools.Python,
		Args: []string{c.d.Tools.Script(docx2excelScript), in.Path, "-o", out},
	}); err != nil {
		logger.Error().Err(err).Msg("docx2excel script failed")
		apperr.Write(w, "DOCX to Excel conversion failed", err)
		return
	}
	if _, err := os.Stat(out); err != nil {
		apperr.Write(w, "DOCX to Excel conversion failed", &apperr.ToolError{Tool: docx2excelScript, Err: err})
		return
	}
	if err := checkXLSX(out); err != nil {
		logger.Error().Err(err).Msg("workbook rejected")
		apperr.Write(w, "DOCX to Excel conversion failed", err)
		return
	}
	c.serve(w, r, b, artifact{
		feature:     "docx2excel",
		path:        out,
		name:        name,
		contentType: contentTypeXLSX,
	})
}
