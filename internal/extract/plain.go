package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// decodeText returns content as a string safe to segment: the UTF-8 BOM is
// stripped, invalid sequences become the replacement character, and CRLF
// line endings normalize to LF so paragraph boundaries are uniform.
func decodeText(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	s := string(content)
	if !utf8.Valid(content) {
		s = strings.ToValidUTF8(s, "�")
	}
	return strings.ReplaceAll(s, "\r\n", "\n"), nil
}
