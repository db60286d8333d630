package llmprovider

// turn is one exchange in a hosted-API conversation's replayable history.
// The three hosted adapters all suspend/restore this same shape; only the
// wire call that turns it into a request differs.
type turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

type history struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
	Turns        []turn `json:"turns"`
}

func (h *history) append(role, text string) {
	h.Turns = append(h.Turns, turn{Role: role, Text: text})
}
