package extract

import (
	"fmt"
	"os"

	"github.com/lu4p/cat"
)

// extractRTF extracts text from .rtf bytes via lu4p/cat, which carries a
// real RTF tokenizer. cat only reads from a path, so the bytes go through a
// temp file.
func extractRTF(content []byte) (string, error) {
	f, err := os.CreateTemp("", "chie-*.rtf")
	if err != nil {
		return "", fmt.Errorf("extract RTF: temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("extract RTF: write temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("extract RTF: close temp: %w", err)
	}
	text, err := cat.File(f.Name())
	if err != nil {
		return "", fmt.Errorf("extract RTF: %w", err)
	}
	return text, nil
}
