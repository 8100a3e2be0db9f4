package segment

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/chie/pkg/utils"
)

// paragraphSep matches a blank-line paragraph separator.
var paragraphSep = regexp.MustCompile(`\n[ \t]*\n+`)

// structuralSpans splits text at the coarsest boundaries that keep each span
// within the target size: paragraphs first, then sentences inside oversized
// paragraphs, then fixed word windows inside oversized sentences.
func (s *Segmenter) structuralSpans(text string) []span {
	var out []span
	for _, p := range splitParagraphs(text) {
		if p.tokens <= s.policy.TargetSize {
			out = append(out, p)
			continue
		}
		for _, sent := range splitSentences(p) {
			if sent.tokens <= s.policy.TargetSize {
				out = append(out, sent)
				continue
			}
			out = append(out, splitFixed(sent, s.policy.TargetSize)...)
		}
	}
	return out
}

// splitParagraphs splits on blank lines. Offsets index into the original
// text; surrounding whitespace is trimmed from each paragraph.
func splitParagraphs(text string) []span {
	seps := paragraphSep.FindAllStringIndex(text, -1)
	var out []span
	start := 0
	flush := func(end int) {
		sp, ok := trimmedSpan(text, start, end, "\n\n")
		if ok {
			out = append(out, sp)
		}
	}
	for _, sep := range seps {
		flush(sep[0])
		start = sep[1]
	}
	flush(len(text))
	return out
}

// sentenceEnd reports whether the rune terminates a sentence.
func sentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// splitSentences splits a paragraph span after terminal punctuation followed
// by whitespace.
func splitSentences(p span) []span {
	text := p.text
	var out []span
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !sentenceEnd(r) {
			continue
		}
		// Consume trailing closers like quotes or parens.
		j := i
		for j < len(text) {
			r2, size2 := utf8.DecodeRuneInString(text[j:])
			if r2 != '"' && r2 != '\'' && r2 != ')' && r2 != ']' && r2 != '」' {
				break
			}
			j += size2
		}
		if j >= len(text) {
			break
		}
		r3, _ := utf8.DecodeRuneInString(text[j:])
		if !unicode.IsSpace(r3) {
			continue
		}
		if sp, ok := trimmedSpan(text, start, j, " "); ok {
			sp.start += p.start
			sp.end += p.start
			out = append(out, sp)
		}
		start = j
		i = j
	}
	if sp, ok := trimmedSpan(text, start, len(text), " "); ok {
		sp.start += p.start
		sp.end += p.start
		out = append(out, sp)
	}
	if len(out) == 0 {
		return []span{p}
	}
	out[0].sep = p.sep
	return out
}

// splitFixed is the last-resort splitter: word windows of at most target
// tokens. Words are never broken.
func splitFixed(sent span, target int) []span {
	text := sent.text
	var out []span
	wordStart := -1
	groupStart := -1
	groupEnd := -1
	groupTokens := 0

	flush := func() {
		if groupStart < 0 {
			return
		}
		sp := span{
			text:   text[groupStart:groupEnd],
			start:  sent.start + groupStart,
			end:    sent.start + groupEnd,
			tokens: utils.EstimateTokens(text[groupStart:groupEnd]),
			sep:    " ",
		}
		out = append(out, sp)
		groupStart = -1
		groupEnd = -1
		groupTokens = 0
	}

	endWord := func(end int) {
		word := text[wordStart:end]
		t := utils.EstimateTokens(word)
		if groupStart >= 0 && groupTokens+t > target {
			flush()
		}
		if groupStart < 0 {
			groupStart = wordStart
		}
		groupEnd = end
		groupTokens += t
		wordStart = -1
	}

	for i, r := range text {
		if unicode.IsSpace(r) {
			if wordStart >= 0 {
				endWord(i)
			}
			continue
		}
		if wordStart < 0 {
			wordStart = i
		}
	}
	if wordStart >= 0 {
		endWord(len(text))
	}
	flush()
	if len(out) > 0 {
		out[0].sep = sent.sep
	}
	return out
}

// trimmedSpan builds a span from text[start:end] with surrounding whitespace
// trimmed and offsets adjusted. Returns false for an empty result.
func trimmedSpan(text string, start, end int, sep string) (span, bool) {
	raw := text[start:end]
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return span{}, false
	}
	lead := len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace))
	s := start + lead
	return span{
		text:   trimmed,
		start:  s,
		end:    s + len(trimmed),
		tokens: utils.EstimateTokens(trimmed),
		sep:    sep,
	}, true
}
