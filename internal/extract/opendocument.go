package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// odContentPath is the path to the main content inside an OpenDocument zip
// (.odt, .odp, .ods all use the same layout).
const odContentPath = "content.xml"

// OpenDocument text elements, attributes optional. Headings and paragraphs
// become separate paragraphs; spans catch text outside p/h wrappers.
var (
	odTextH    = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
	odTextP    = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odTextSpan = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
)

// extractOpenDocument extracts text from OpenDocument bytes (.odt, .odp,
// .ods). The format is a ZIP containing content.xml; text lives in text:h,
// text:p, and text:span elements.
func extractOpenDocument(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract OpenDocument: not a zip: %w", err)
	}
	var contentXML []byte
	for _, f := range zr.File {
		if f.Name != odContentPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract OpenDocument: open %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			_ = rc.Close()
			return "", fmt.Errorf("extract OpenDocument: read %s: %w", f.Name, err)
		}
		_ = rc.Close()
		contentXML = buf.Bytes()
		break
	}
	if contentXML == nil {
		return "", fmt.Errorf("extract OpenDocument: %s not found", odContentPath)
	}

	s := string(contentXML)
	var paragraphs []string
	appendMatches := func(parts [][]string) {
		for _, p := range parts {
			if t := strings.TrimSpace(p[1]); t != "" {
				paragraphs = append(paragraphs, t)
			}
		}
	}
	appendMatches(odTextH.FindAllStringSubmatch(s, -1))
	appendMatches(odTextP.FindAllStringSubmatch(s, -1))
	appendMatches(odTextSpan.FindAllStringSubmatch(s, -1))
	return strings.Join(paragraphs, "\n\n"), nil
}
