package convert

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/trackshift/platform/docgateway/internal/apperr"
)

// PageSize is a paper size in millimetres.
type PageSize struct {
	Name     string
	WidthMM  float64
	HeightMM float64
}

var (
	A4     = PageSize{Name: "A4", WidthMM: 210, HeightMM: 297}
	Letter = PageSize{Name: "Letter", WidthMM: 215.9, HeightMM: 279.4}
)

const defaultMarginMM = 10

// pdfEpoch stamps every generated PDF so identical input gives identical bytes.
var pdfEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ParsePageSize accepts A4 or Letter in any case. Anything else is A4.
func ParsePageSize(raw string) PageSize {
	if strings.EqualFold(strings.TrimSpace(raw), "letter") {
		return Letter
	}
	return A4
}

// ParseMargin reads a margin in millimetres. Empty or non-numeric input is
// the default; negative values are floored at zero.
func ParseMargin(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultMarginMM
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return defaultMarginMM
	}
	return math.Max(0, v)
}

// MMToPt converts millimetres to PDF points.
func MMToPt(mm float64) float64 {
	return mm * 72 / 25.4
}

// Placement is where the image lands on the page, in points, origin top left.
type Placement struct {
	PageW, PageH float64
	X, Y         float64
	W, H         float64
	Scale        float64
}

// Layout fits an image of imgW x imgH pixels (one pixel per point) inside
// the page minus margins, keeping the aspect ratio, never enlarging it, and
// centering it on the page.
func Layout(page PageSize, marginMM float64, imgW, imgH int) (Placement, error) {
	if imgW <= 0 || imgH <= 0 {
		return Placement{}, apperr.Validation("image has no pixels")
	}
	pageW, pageH := MMToPt(page.WidthMM), MMToPt(page.HeightMM)
	m := MMToPt(math.Max(0, marginMM))
	contentW, contentH := pageW-2*m, pageH-2*m
	if contentW <= 0 || contentH <= 0 {
		return Placement{}, apperr.Validation("margin of %gmm leaves no room on %s", marginMM, page.Name)
	}
	scale := math.Min(math.Min(contentW/float64(imgW), contentH/float64(imgH)), 1)
	w, h := float64(imgW)*scale, float64(imgH)*scale
	return Placement{
		PageW: pageW,
		PageH: pageH,
		X:     (pageW - w) / 2,
		Y:     (pageH - h) / 2,
		W:     w,
		H:     h,
		Scale: scale,
	}, nil
}

// RenderImagePDF writes a one-page PDF holding the image at p.
func RenderImagePDF(w io.Writer, img io.Reader, format string, p Placement) error {
	imageType := ""
	switch format {
	case "jpeg":
		imageType = "JPG"
	case "png":
		imageType = "PNG"
	default:
		return apperr.UnsupportedMediaType("only JPG or PNG images are accepted")
	}

	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: p.PageW, Ht: p.PageH},
	})
	doc.SetCreationDate(pdfEpoch)
	doc.SetModificationDate(pdfEpoch)
	doc.SetCatalogSort(true)
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.AddPage()

	opts := fpdf.ImageOptions{ImageType: imageType}
	doc.RegisterImageOptionsReader("upload", opts, img)
	doc.ImageOptions("upload", p.X, p.Y, p.W, p.H, false, opts, 0, "")
	if err := doc.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return doc.Output(w)
}

// ImageToPDF places the uploaded JPG or PNG on a single page.
func (c *Converter) ImageToPDF(w http.ResponseWriter, r *http.Request) {
	b := batchOrFail(w, r)
	if b == nil {
		return
	}
	in, ok := requireFile(w, b, "file", "an image file is required")
	if !ok {
		return
	}
	logger := c.logger(b, "img2pdf")
	page := ParsePageSize(param(r, b, "size"))
	margin := ParseMargin(param(r, b, "margin"))

	dir, err := c.jobDir(b)
	if err != nil {
		apperr.Write(w, "could not convert the image to PDF", err)
		return
	}
	name := stem(in.OriginalName, "image") + ".pdf"
	out := filepath.Join(dir, name)
	if err := renderImage(in.Path, out, page, margin); err != nil {
		logger.Error().Err(err).Msg("img2pdf failed")
		apperr.Write(w, "could not convert the image to PDF", err)
		return
	}
	c.serve(w, r, b, artifact{
		feature:     "img2pdf",
		path:        out,
		name:        name,
		contentType: contentTypePDF,
	})
}

func renderImage(src, dst string, page PageSize, margin float64) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return apperr.Validation("unreadable image: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	p, err := Layout(page, margin, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := RenderImagePDF(out, f, format, p); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
