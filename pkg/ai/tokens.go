package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the estimate used when no BPE encoding is available.
const charsPerToken = 4

// Tokenizer counts and truncates prompt text by model tokens.
//
// The BPE encoding is loaded on first use. With an empty encoding name, or
// if loading fails, counts fall back to a rune based estimate.
type Tokenizer struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenizer creates a tokenizer for a tiktoken encoding such as "o200k_base".
func NewTokenizer(encoding string) *Tokenizer {
	return &Tokenizer{encoding: encoding}
}

func (t *Tokenizer) load() *tiktoken.Tiktoken {
	if t == nil || t.encoding == "" {
		return nil
	}
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			logger.Warn("[AI] Token encoding unavailable, estimating", "encoding", t.encoding, "err", err)
			return
		}
		t.enc = enc
	})
	return t.enc
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if enc := t.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + charsPerToken - 1) / charsPerToken
}

// Truncate cuts text to at most maxTokens tokens. It reports whether text was cut.
func (t *Tokenizer) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return text, false
	}
	if enc := t.load(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text, false
		}
		return enc.Decode(tokens[:maxTokens]), true
	}

	limit := maxTokens * charsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i], true
		}
		n++
	}
	return text, false
}
