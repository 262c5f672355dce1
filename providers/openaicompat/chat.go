package openaicompat

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/failover/types"
)

// Message roles understood by OpenAI-compatible endpoints.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of an OpenAI-compatible conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload accepted by this integration.
type ChatRequest struct {
	// Model overrides the configured default model when set.
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	TopP        float32   `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// chatWireRequest is the body sent upstream. It differs from ChatRequest
// only in that the model has already been resolved.
type chatWireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	TopP        float32   `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// Choice is a single completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

// Usage reports token consumption as counted by the vendor.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is a decoded chat completion.
type ChatResponse struct {
	ID       string   `json:"id"`
	Provider string   `json:"provider,omitempty"`
	Model    string   `json:"model"`
	Choices  []Choice `json:"choices"`
	Usage    *Usage   `json:"usage,omitempty"`
	Created  int64    `json:"created,omitempty"`
}

// decodeChatPayload coerces the opaque invocation payload into a
// ChatRequest. A bare string becomes a single user message; raw JSON is
// unmarshalled. Anything else is a permanent input error.
func decodeChatPayload(payload any) (*ChatRequest, error) {
	switch p := payload.(type) {
	case *ChatRequest:
		return p, nil
	case ChatRequest:
		return &p, nil
	case string:
		return &ChatRequest{Messages: []Message{{Role: RoleUser, Content: p}}}, nil
	case json.RawMessage:
		return unmarshalChatPayload([]byte(p))
	case []byte:
		return unmarshalChatPayload(p)
	default:
		return nil, types.NewError(types.ErrUnsupportedInput,
			fmt.Sprintf("unsupported chat payload type %T", payload))
	}
}

func unmarshalChatPayload(data []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, types.NewError(types.ErrUnsupportedInput, "cannot decode chat payload").WithCause(err)
	}
	return &req, nil
}

// ValidateResponse rejects structurally unusable completions: a reply
// with no choices or an empty assistant message counts as a failed
// attempt even though the HTTP call succeeded.
func ValidateResponse(response any) error {
	resp, ok := response.(*ChatResponse)
	if !ok {
		return types.NewError(types.ErrInvalidResponse,
			fmt.Sprintf("unexpected response type %T", response))
	}
	if len(resp.Choices) == 0 {
		return types.NewError(types.ErrInvalidResponse, "completion has no choices")
	}
	if resp.Choices[0].Message.Content == "" {
		return types.NewError(types.ErrInvalidResponse, "completion message is empty")
	}
	return nil
}
