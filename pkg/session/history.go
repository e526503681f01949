package session

import (
	"strings"
	"time"

	"github.com/harunnryd/telvox/pkg/llm"
)

// DefaultHistoryLimit is the number of dialogue entries kept per call.
const DefaultHistoryLimit = 10

// History is a bounded FIFO of dialogue entries. It is not safe for
// concurrent use; the session lock guards it.
type History struct {
	limit   int
	entries []llm.Message
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, entries: make([]llm.Message, 0, limit)}
}

// Append adds an entry, dropping the oldest ones beyond the limit.
func (h *History) Append(role llm.Role, text string) {
	h.entries = append(h.entries, llm.Message{Role: role, Content: text, At: time.Now()})
	if over := len(h.entries) - h.limit; over > 0 {
		copy(h.entries, h.entries[over:])
		h.entries = h.entries[:h.limit]
	}
}

func (h *History) Len() int { return len(h.entries) }

func (h *History) Limit() int { return h.limit }

// Entries returns a copy of the dialogue entries, oldest first.
func (h *History) Entries() []llm.Message {
	return append([]llm.Message(nil), h.entries...)
}

// Messages returns the system instruction followed by the entries. An empty
// instruction is omitted.
func (h *History) Messages(system string) []llm.Message {
	out := make([]llm.Message, 0, len(h.entries)+1)
	if s := strings.TrimSpace(system); s != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: s})
	}
	return append(out, h.entries...)
}
