package claude

// messagesRequest is the Anthropic native Messages API request body. All
// three reasoning operations are single-turn prompts asking for a JSON
// object back, parsed by the caller rather than via tool-use, to keep
// this client a plain HTTP adapter.
type messagesRequest struct {
	Model       string             `json:"model"`
	Messages    []message          `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float32            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentItem `json:"content"`
	Model   string        `json:"model"`
	Usage   usage         `json:"usage"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

const defaultModel = "claude-3-5-sonnet-20241022"
const defaultMaxTokens = 1024
