package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/chie/internal/models"
)

// extractPDFPages returns one string per page. A page that fails to parse is
// recorded as a unit failure and skipped; the remaining pages still extract.
// An unreadable PDF returns a terminal error.
func extractPDFPages(content []byte) ([]string, []models.UnitFailure, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open PDF: %v", models.ErrExtraction, err)
	}
	numPages := r.NumPage()
	pages := make([]string, 0, numPages)
	var failures []models.UnitFailure
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			failures = append(failures, models.UnitFailure{
				UnitID:  fmt.Sprintf("page-%d", i),
				Kind:    models.FailureExtraction,
				Message: err.Error(),
			})
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, failures, nil
}
