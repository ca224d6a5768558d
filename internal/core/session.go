package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"paklaw.com/paklaw-assist/internal/store"
)

const (
	maxTitleWords = 10
	maxTitleRunes = 30
	defaultTitle  = "New Chat"
)

// DeriveChatTitle builds the human-visible chat title from the first message:
// at most ten words, cut to thirty characters plus "..." when longer.
func DeriveChatTitle(firstMessage string) string {
	words := strings.Fields(firstMessage)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	title := []rune(strings.Join(words, " "))
	if len(title) > maxTitleRunes {
		return string(title[:maxTitleRunes]) + "..."
	}
	if len(title) == 0 {
		return defaultTitle
	}
	return string(title)
}

type FactCategory string

const (
	FactProvince FactCategory = "Province"
	FactProblem  FactCategory = "Problem"
)

// Memory holds facts extracted from the conversation, per category, in the
// order they were first seen.
type Memory map[FactCategory][]string

func NewMemory() Memory {
	return Memory{FactProvince: {}, FactProblem: {}}
}

// Add appends fact unless the category already holds it.
func (m Memory) Add(category FactCategory, fact string) bool {
	for _, f := range m[category] {
		if strings.EqualFold(f, fact) {
			return false
		}
	}
	m[category] = append(m[category], fact)
	return true
}

func (m Memory) Clone() Memory {
	out := make(Memory, len(m))
	for k, v := range m {
		out[k] = append([]string{}, v...)
	}
	return out
}

// String renders the memory for prompts, e.g. "Province: [Punjab]; Problem: []".
func (m Memory) String() string {
	return fmt.Sprintf("%s: [%s]; %s: [%s]",
		FactProvince, strings.Join(m[FactProvince], ", "),
		FactProblem, strings.Join(m[FactProblem], ", "))
}

var nonLetters = regexp.MustCompile(`[^\p{L}]+`)

var provinceAliases = []struct {
	alias    string
	province string
}{
	{"punjab", "Punjab"},
	{"lahore", "Punjab"},
	{"rawalpindi", "Punjab"},
	{"faisalabad", "Punjab"},
	{"multan", "Punjab"},
	{"sindh", "Sindh"},
	{"karachi", "Sindh"},
	{"hyderabad", "Sindh"},
	{"khyber pakhtunkhwa", "Khyber Pakhtunkhwa"},
	{"kpk", "Khyber Pakhtunkhwa"},
	{"peshawar", "Khyber Pakhtunkhwa"},
	{"balochistan", "Balochistan"},
	{"baluchistan", "Balochistan"},
	{"quetta", "Balochistan"},
	{"islamabad", "Islamabad Capital Territory"},
	{"gilgit baltistan", "Gilgit-Baltistan"},
	{"gilgit", "Gilgit-Baltistan"},
	{"azad kashmir", "Azad Jammu and Kashmir"},
	{"ajk", "Azad Jammu and Kashmir"},
	{"muzaffarabad", "Azad Jammu and Kashmir"},
}

// DetectProvinces returns the provinces or territories text refers to,
// directly or through a major city, in order of first mention.
func DetectProvinces(text string) []string {
	padded := " " + strings.ToLower(nonLetters.ReplaceAllString(text, " ")) + " "

	type hit struct {
		pos      int
		province string
	}
	var hits []hit
	for _, a := range provinceAliases {
		if pos := strings.Index(padded, " "+a.alias+" "); pos >= 0 {
			hits = append(hits, hit{pos, a.province})
		}
	}

	var out []string
	seen := make(map[string]bool)
	for len(hits) > 0 {
		first := 0
		for i := range hits {
			if hits[i].pos < hits[first].pos {
				first = i
			}
		}
		if p := hits[first].province; !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
		hits = append(hits[:first], hits[first+1:]...)
	}
	return out
}

// ConversationSession is the chat currently open for one logged-in user.
type ConversationSession struct {
	ChatID   string
	Title    string
	Messages []store.Message
	Memory   Memory
	Started  bool
}

func NewConversationSession() *ConversationSession {
	return &ConversationSession{Memory: NewMemory()}
}

func (s *ConversationSession) IsEmpty() bool {
	return len(s.Messages) == 0
}

// begin moves an empty session to active on its first user message.
func (s *ConversationSession) begin(firstMessage string) {
	s.ChatID = uuid.NewString()
	s.Title = DeriveChatTitle(firstMessage)
	s.Started = true
}

func (s *ConversationSession) append(role store.Role, content string) {
	s.Messages = append(s.Messages, store.Message{Role: role, Content: content})
}

func (s *ConversationSession) reset() {
	*s = ConversationSession{Memory: NewMemory()}
}

// resume replaces the session with a stored chat. Memory is cleared and must
// be rebuilt by the caller.
func (s *ConversationSession) resume(chatID string, chat store.StoredChat) {
	title := chat.Title
	if title == "" {
		title = chatID
	}
	*s = ConversationSession{
		ChatID:   chatID,
		Title:    title,
		Messages: append([]store.Message{}, chat.Messages...),
		Memory:   NewMemory(),
		Started:  true,
	}
}
