package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRetrieveArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"quarterly revenue report", "-top-k", "5"},
			expected: []string{"-top-k", "5", "quarterly revenue report"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top-k", "5", "quarterly revenue report"},
			expected: []string{"-top-k", "5", "quarterly revenue report"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"quarterly revenue report"},
			expected: []string{"quarterly revenue report"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-kb", "docs"},
			expected: []string{"-kb", "docs", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retrieveArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("retrieveArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"hyperjump"}, "hyperjump"},
		{"multiple words", []string{"hyperjump", "profile"}, "hyperjump profile"},
		{"single quoted phrase", []string{"hyperjump profile"}, "hyperjump profile"},
		{"three words", []string{"machine", "learning", "algorithms"}, "machine learning algorithms"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
		{"one space", []string{" "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		defaultPath string
		want        string
	}{
		{"no config flag", []string{"-top-k", "5", "query"}, "/default.yaml", "/default.yaml"},
		{"-config present", []string{"-config", "/custom.yaml", "query"}, "/default.yaml", "/custom.yaml"},
		{"--config present", []string{"--config", "/other.yaml"}, "/default.yaml", "/other.yaml"},
		{"config at end", []string{"query", "-config", "/end.yaml"}, "/default.yaml", "/end.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := configPathFromArgs(tt.args, tt.defaultPath)
			if got != tt.want {
				t.Errorf("configPathFromArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveKnowledgeBase(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `watch:
  knowledge_base: drop-kb
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if got := resolveKnowledgeBase("explicit", configPath); got != "explicit" {
		t.Errorf("flag should win: got %q, want %q", got, "explicit")
	}
	if got := resolveKnowledgeBase("", configPath); got != "drop-kb" {
		t.Errorf("config fallback: got %q, want %q", got, "drop-kb")
	}
	if got := resolveKnowledgeBase("", filepath.Join(dir, "missing.yaml")); got != "" {
		t.Errorf("missing config should yield empty, got %q", got)
	}
}
