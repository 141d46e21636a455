package queryengine

import "github.com/pkoukk/tiktoken-go"

// tokenCounter wraps a tiktoken encoder with a len(text)/4 character-count
// fallback when the encoder cannot be loaded, grounded
// on the teacher's chunker.SimpleChunker.countTokens.
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter() *tokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &tokenCounter{enc: enc}
}

func (t *tokenCounter) count(text string) int {
	if text == "" {
		return 0
	}
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}
