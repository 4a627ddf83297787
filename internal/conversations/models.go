package conversations

import (
	"strconv"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the role name used in exports.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}

// SentAtLayout formats the time label stored with every message.
const SentAtLayout = "15:04:05"

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	SentAt  string `json:"timestamp"`
}

func NewMessage(role Role, content string, at time.Time) Message {
	return Message{Role: role, Content: content, SentAt: at.Format(SentAtLayout)}
}

// Record is one persisted conversation. Messages are kept in the order they
// were appended.
type Record struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastModified time.Time `json:"timestamp"`
	Messages     []Message `json:"messages"`
}

// NewID derives a conversation id from the wall clock in milliseconds.
func NewID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}

const titleBudget = 20

// AutoTitle shortens the first message into a title: at most 20 characters,
// with "..." appended when something was cut.
func AutoTitle(content string) string {
	r := []rune(content)
	if len(r) <= titleBudget {
		return content
	}
	return string(r[:titleBudget]) + "..."
}

// DefaultTitle names an autosaved conversation that has nothing to derive a title from.
func DefaultTitle(now time.Time) string {
	return "Conversation " + now.Format("2006-01-02")
}
