package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// FallbackEncoding is used for models the tokenizer registry does not know
const FallbackEncoding = "cl100k_base"

// Tokenizer turns text into model tokens
type Tokenizer interface {
	Encode(text string) []int
}

var (
	loaderOnce sync.Once
	byModel    sync.Map // model name -> *tiktoken.Tiktoken
)

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// ForModel returns the tokenizer of model, or the FallbackEncoding when the
// model is unknown. It only fails if the fallback itself cannot be loaded.
func ForModel(model string) (Tokenizer, error) {
	// BPE ranks ship with the binary, no network access at runtime
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	if cached, ok := byModel.Load(model); ok {
		return &tiktokenTokenizer{enc: cached.(*tiktoken.Tiktoken)}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(FallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s encoding: %w", FallbackEncoding, err)
		}
	}
	byModel.Store(model, enc)
	return &tiktokenTokenizer{enc: enc}, nil
}
