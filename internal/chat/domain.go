package chat

import (
	"errors"

	"github.com/sashabaranov/go-openai"
)

// Roles a history message may carry.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// ErrEmptyMessage is returned when a request has no user message.
var ErrEmptyMessage = errors.New("message cannot be empty")

// Message is a single turn of the conversation history.
type Message struct {
	// Role is who sent the message: "system", "user" or "assistant".
	Role string `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
}

// Request is one chat call. History is supplied by the caller on every call
// and is never modified.
type Request struct {
	Message   string
	History   []Message
	EmojiHint bool
}

// Validate checks the request before any upstream work.
func (r *Request) Validate() error {
	if r == nil || r.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}

// StreamChunk is one unit of the relayed stream. FullText is only set on the
// terminal chunk, where Done is true.
type StreamChunk struct {
	Text     string
	Done     bool
	FullText string
}
