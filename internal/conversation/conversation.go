// Package conversation persists chat sessions, their message transcripts,
// and per-identity usage counters.
//
// A completed turn (user question plus assistant answer) is appended
// atomically: both messages and the usage increment commit together or not
// at all.
package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// titleMaxRunes bounds session titles derived from the first question.
const titleMaxRunes = 50

// ErrSessionNotFound is returned when a session ID does not exist or
// belongs to another identity.
var ErrSessionNotFound = errors.New("conversation: session not found")

// Session is one chat thread owned by an identity.
type Session struct {
	ID        uuid.UUID
	Identity  string
	Title     string
	CreatedAt time.Time
}

// Message is one transcript entry. Seq orders messages within a session,
// starting at 1.
type Message struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Identity  string
	Role      string
	Content   string
	Seq       int32
	CreatedAt time.Time
}

// Turn is a completed question/answer pair ready for persistence.
type Turn struct {
	SessionID uuid.UUID
	Identity  string
	Question  string
	Answer    string
}

// titleFromQuestion derives a session title from the first question,
// truncating long questions at a rune boundary.
func titleFromQuestion(question string) string {
	question = strings.TrimSpace(question)
	runes := []rune(question)
	if len(runes) <= titleMaxRunes {
		return question
	}
	return string(runes[:titleMaxRunes]) + "..."
}
