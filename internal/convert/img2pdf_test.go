package convert

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/ledongthuc/pdf"

	"github.com/trackshift/platform/docgateway/internal/apperr"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestMMToPt(t *testing.T) {
	if !near(MMToPt(25.4), 72) {
		t.Errorf("25.4mm = %v pt", MMToPt(25.4))
	}
	if !near(MMToPt(210), 595.2755905511812) {
		t.Errorf("A4 width = %v pt", MMToPt(210))
	}
}

func TestParsePageSizeAndMargin(t *testing.T) {
	if ParsePageSize("LETTER") != Letter || ParsePageSize("a4") != A4 || ParsePageSize("tabloid") != A4 {
		t.Error("page size parsing")
	}
	margins := map[string]float64{"": 10, "0": 0, "12.5": 12.5, "-3": 0, "wide": 10, "NaN": 10}
	for in, want := range margins {
		if got := ParseMargin(in); got != want {
			t.Errorf("ParseMargin(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLayoutNeverUpscales(t *testing.T) {
	p, err := Layout(A4, 10, 100, 50)
	if err != nil {
		t.Fatal(err)
	}
	if p.Scale != 1 || p.W != 100 || p.H != 50 {
		t.Fatalf("small image was resized: %+v", p)
	}
	if !near(p.X, (MMToPt(210)-100)/2) || !near(p.Y, (MMToPt(297)-50)/2) {
		t.Errorf("not centered: %+v", p)
	}
}

func TestLayoutShrinksToContentBox(t *testing.T) {
	m := MMToPt(10)
	p, err := Layout(A4, 10, 2000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	contentW := MMToPt(210) - 2*m
	if !near(p.W, contentW) || !near(p.H, contentW/2) {
		t.Errorf("size = %vx%v, want width %v", p.W, p.H, contentW)
	}
	if !near(p.X, m) {
		t.Errorf("X = %v, want margin %v", p.X, m)
	}
	if !near(p.W/p.H, 2) {
		t.Errorf("aspect ratio lost: %v", p.W/p.H)
	}

	tall, err := Layout(Letter, 0, 500, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if !near(tall.H, MMToPt(279.4)) || !near(tall.Y, 0) {
		t.Errorf("tall image: %+v", tall)
	}
}

func TestLayoutRejects(t *testing.T) {
	var ve *apperr.ValidationError
	if _, err := Layout(A4, 10, 0, 10); !errors.As(err, &ve) {
		t.Errorf("empty image: %v", err)
	}
	if _, err := Layout(A4, 105, 10, 10); !errors.As(err, &ve) {
		t.Errorf("margin swallowing the page: %v", err)
	}
}

func TestRenderImagePDFIsReproducible(t *testing.T) {
	img := makePNG(t, 64, 48, false)
	p, err := Layout(A4, 10, 64, 48)
	if err != nil {
		t.Fatal(err)
	}
	render := func() []byte {
		var buf bytes.Buffer
		if err := RenderImagePDF(&buf, bytes.NewReader(img), "png", p); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}
	first, second := render(), render()
	if !bytes.Equal(first, second) {
		t.Fatal("identical input produced different PDFs")
	}
	r, err := pdf.NewReader(bytes.NewReader(first), int64(len(first)))
	if err != nil {
		t.Fatal(err)
	}
	if r.NumPage() != 1 {
		t.Errorf("pages = %d", r.NumPage())
	}
}

func TestRenderImagePDFRejectsOtherFormats(t *testing.T) {
	var ve *apperr.ValidationError
	err := RenderImagePDF(&bytes.Buffer{}, bytes.NewReader(nil), "gif", Placement{PageW: 10, PageH: 10, W: 1, H: 1, Scale: 1})
	if !errors.As(err, &ve) {
		t.Errorf("gif accepted: %v", err)
	}
}
