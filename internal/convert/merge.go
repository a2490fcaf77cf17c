package convert

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/trackshift/platform/docgateway/internal/apperr"
)

func init() {
	// pdfcpu would otherwise create ~/.config/pdfcpu on first use.
	api.DisableConfigDir()
}

// MergePDFs concatenates every page of each input, in argument order.
func MergePDFs(w io.Writer, inputs ...string) error {
	if len(inputs) < 2 {
		return apperr.Validation("at least two PDFs are needed to merge")
	}
	readers := make([]io.ReadSeeker, 0, len(inputs))
	for _, in := range inputs {
		f, err := os.Open(in)
		if err != nil {
			return err
		}
		defer f.Close()
		readers = append(readers, f)
	}
	conf := model.NewDefaultConfiguration()
	if err := api.MergeRaw(readers, w, false, conf); err != nil {
		return fmt.Errorf("merge pdfs: %w", err)
	}
	return nil
}

// fusionName is fusion_<ISO timestamp>.pdf with ':' and '.' replaced by '-'.
func fusionName(now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15:04:05.000Z")
	return "fusion_" + strings.NewReplacer(":", "-", ".", "-").Replace(ts) + ".pdf"
}

// MergeTwo appends file2 to file1.
func (c *Converter) MergeTwo(w http.ResponseWriter, r *http.Request) {
	b := batchOrFail(w, r)
	if b == nil {
		return
	}
	f1, ok1 := b.File("file1")
	f2, ok2 := b.File("file2")
	if !ok1 || !ok2 {
		apperr.Write(w, "", apperr.Validation("both file1 and file2 are required"))
		return
	}
	logger := c.logger(b, "merge_two")

	dir, err := c.jobDir(b)
	if err != nil {
		apperr.Write(w, "could not merge the PDFs", err)
		return
	}
	name := fusionName(c.d.Now())
	out := filepath.Join(dir, name)
	if err := mergeToFile(out, f1.Path, f2.Path); err != nil {
		logger.Error().Err(err).Msg("merge failed")
		apperr.Write(w, "could not merge the PDFs", err)
		return
	}
	c.serve(w, r, b, artifact{
		feature:     "merge_two",
		path:        out,
		name:        name,
		contentType: contentTypePDF,
	})
}

func mergeToFile(dst string, inputs ...string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := MergePDFs(out, inputs...); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
