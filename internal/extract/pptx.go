package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pptxSlideRe matches slide XML paths inside a .pptx zip and captures the slide number.
var pptxSlideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t> (and any other attributes).
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// apBlock matches one <a:p>...</a:p> paragraph block within a slide.
var apBlock = regexp.MustCompile(`(?s)<a:p>.*?</a:p>`)

// extractPPTXSlides extracts text from .pptx bytes, one string per slide in
// slide-number order. Paragraph boundaries within a slide become blank lines.
func extractPPTXSlides(content []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract PPTX: not a zip: %w", err)
	}
	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlideRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: open %s: %w", f.Name, err)
		}
		var slideBuf bytes.Buffer
		if _, err := slideBuf.ReadFrom(rc); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("extract PPTX: read %s: %w", f.Name, err)
		}
		_ = rc.Close()

		var paragraphs []string
		for _, block := range apBlock.FindAllString(slideBuf.String(), -1) {
			runs := atTag.FindAllStringSubmatch(block, -1)
			if len(runs) == 0 {
				continue
			}
			var b strings.Builder
			for i, r := range runs {
				if i > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(strings.TrimSpace(r[1]))
			}
			if p := strings.TrimSpace(b.String()); p != "" {
				paragraphs = append(paragraphs, p)
			}
		}
		slides = append(slides, slide{num: num, text: strings.Join(paragraphs, "\n\n")})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })
	out := make([]string, len(slides))
	for i, s := range slides {
		out[i] = s.text
	}
	return out, nil
}
