package prefixeval

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used by the gpt-4o model family.
const DefaultEncoding = "o200k_base"

// Tokenizer splits text into tokens and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type bpe struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads a tiktoken encoding by name, e.g. "o200k_base". The
// ranks file is fetched once and cached under TIKTOKEN_CACHE_DIR.
func NewTiktoken(encoding string) (Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("prefixeval: loading encoding %s: %w", encoding, err)
	}
	return bpe{enc: enc}, nil
}

// TiktokenForModel picks the encoding that model uses.
func TiktokenForModel(model string) (Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("prefixeval: no encoding for model %s: %w", model, err)
	}
	return bpe{enc: enc}, nil
}

func (b bpe) Encode(text string) []int   { return b.enc.EncodeOrdinary(text) }
func (b bpe) Decode(tokens []int) string { return b.enc.Decode(tokens) }
