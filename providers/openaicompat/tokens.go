package openaicompat

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenEstimator lazily initializes a cl100k_base encoding and counts
// tokens for the metrics. These vendors do not publish their tokenizers,
// so the counts are estimates; exact usage from the response wins when
// the vendor reports it.
type tokenEstimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func (e *tokenEstimator) encoding() (*tiktoken.Tiktoken, error) {
	e.once.Do(func() {
		// 初始化可能需要下载 BPE 数据，失败时静默降级
		e.enc, e.err = tiktoken.GetEncoding("cl100k_base")
	})
	return e.enc, e.err
}

// messages estimates the prompt token count for a message list using the
// usual per-message framing overhead.
func (e *tokenEstimator) messages(msgs []Message) (int, bool) {
	enc, err := e.encoding()
	if err != nil {
		return 0, false
	}
	total := 0
	for _, m := range msgs {
		// 每条消息的开销: <|start|>role\n content<|end|>\n
		total += 4
		total += len(enc.Encode(m.Content, nil, nil))
		total += len(enc.Encode(m.Role, nil, nil))
	}
	total += 3 // conversation-end overhead
	return total, true
}

// text estimates the token count of a bare completion string.
func (e *tokenEstimator) text(s string) (int, bool) {
	enc, err := e.encoding()
	if err != nil {
		return 0, false
	}
	return len(enc.Encode(s, nil, nil)), true
}
