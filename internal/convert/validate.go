package convert

import (
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/trackshift/platform/docgateway/internal/apperr"
)

// Minimum size of a DOCX that is more than an empty zip shell.
const minDOCXBytes = 1024

// checkSize fails with CorruptOutputError when path is smaller than min bytes.
func checkSize(path string, min int64) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, &apperr.CorruptOutputError{Path: path, Reason: "output missing"}
	}
	if st.Size() < min {
		return st.Size(), &apperr.CorruptOutputError{
			Path:   path,
			Reason: fmt.Sprintf("only %d bytes, expected at least %d", st.Size(), min),
		}
	}
	return st.Size(), nil
}

// pdfPages opens path as a PDF and returns its page count. The parser
// panics on some malformed trailers, so that is reported as corruption too.
func pdfPages(path string) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, &apperr.CorruptOutputError{Path: path, Reason: fmt.Sprintf("unreadable pdf: %v", rec)}
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, &apperr.CorruptOutputError{Path: path, Reason: fmt.Sprintf("unreadable pdf: %v", err)}
	}
	defer func() { _ = f.Close() }()
	return r.NumPage(), nil
}

// checkPDF requires at least one page.
func checkPDF(path string) error {
	n, err := pdfPages(path)
	if err != nil {
		return err
	}
	if n < 1 {
		return &apperr.CorruptOutputError{Path: path, Reason: "pdf has no pages"}
	}
	return nil
}

// checkXLSX requires a workbook excelize can open with at least one sheet.
func checkXLSX(path string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return &apperr.CorruptOutputError{Path: path, Reason: fmt.Sprintf("unreadable workbook: %v", err)}
	}
	defer func() { _ = f.Close() }()
	if len(f.GetSheetList()) == 0 {
		return &apperr.CorruptOutputError{Path: path, Reason: "workbook has no sheets"}
	}
	return nil
}
