package embedding

import (
	"reflect"
	"testing"
)

func TestSimpleTokenizer_shape(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths = %d/%d/%d, want 10 each", len(ids), len(attn), len(types))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP 102 after two words, got %d", ids[3])
	}
	// CLS + two words + SEP attended, rest padding.
	for i, want := range []int64{1, 1, 1, 1, 0} {
		if attn[i] != want {
			t.Errorf("attention[%d] = %d, want %d", i, attn[i], want)
		}
	}
}

func TestSimpleTokenizer_deterministic(t *testing.T) {
	tok := &SimpleTokenizer{}
	a, _, _ := tok.Tokenize("repeatable text", 8)
	b, _, _ := tok.Tokenize("repeatable text", 8)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same text produced different IDs: %v vs %v", a, b)
	}
}

func TestSimpleTokenizer_truncatesLongInput(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("one two three four five six", 4)
	if len(ids) != 4 {
		t.Fatalf("len = %d", len(ids))
	}
	for i := range attn {
		if attn[i] != 1 {
			t.Errorf("every slot should be attended when input overflows: %v", attn)
			break
		}
	}
}

func TestHashToken(t *testing.T) {
	if hashToken("abc") != hashToken("abc") {
		t.Error("hash should be deterministic")
	}
	if h := hashToken("abc"); h < 0 || h >= bertVocabSize {
		t.Errorf("hash out of vocabulary range: %d", h)
	}
}
