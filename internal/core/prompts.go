package core

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"paklaw.com/paklaw-assist/internal/logging"
	"paklaw.com/paklaw-assist/internal/store"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

const assistantInstruction = `You are PakLaw Assist, a friendly assistant that gives general, step-by-step procedural guidance about Pakistani law and government processes. You are not a lawyer and never give legal advice.
Do not repeat your identity or greet in every message. Keep answers short: numbered steps, bullets, simple English with occasional Urdu phrases, and explain any legal term in one line.
Cover FIRs, cybercrime reporting, property disputes, traffic challans, family matters (nikah, talaq, khula), NADRA documents, passports, police harassment, tenant-landlord issues and consumer complaints.
For any procedure answer with: 1) step-by-step process 2) required documents 3) where to apply or report 4) fees and time (safe ranges) 5) important notes 6) escalation path.
For conceptual questions give a short explanation and ask whether the user wants the full procedure. Always state that this is general guidance based on Pakistani procedures.
Never draft petitions, false evidence or anything illegal. If the user faces violence, threats or kidnapping, tell them to contact the nearest police station or call 15 immediately.
Remind users to preserve evidence and never to share passwords, OTPs or CNIC copies publicly. If unsure about current fees or district rules, say so.`

const emergencyInstruction = `EMERGENCY MODE. The user in Pakistan may be in danger (threats, harassment, violence, kidnapping, assault or police abuse). Safety comes before law.
Do not give legal advice. Be short, direct and calm, in English with short Urdu phrases where helpful. Never blame the user and never suggest provoking the attacker.
Reply with: 1) immediate safety steps (move to a safe place, call Police 15, contact a trusted person) 2) evidence to preserve (screenshots, recordings, photos, timestamps) 3) where to report (Police 15, FIA Cybercrime 1991 for online threats) 4) what to do if they cannot call 15 5) one reassurance line such as "Main aap ke saath hoon, stay calm."
Ask only "Are you currently safe?" or "Can you reach a trusted person right now?".`

// TokenCounter measures prompt text for the history budget.
type TokenCounter interface {
	CountTokens(text string) int
}

type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

func (c *tiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoding.Encode(text, nil, nil))
}

// wordCounter approximates tokens when no encoding is available.
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	return len(strings.Fields(text)) * 4 / 3
}

// NewTokenCounter loads the cl100k_base encoding, falling back to a word
// based estimate.
func NewTokenCounter() TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logging.NewModuleLogger("core", "prompts").Warn("tiktoken encoding unavailable, estimating tokens from words", "error", err)
		return wordCounter{}
	}
	return &tiktokenCounter{encoding: enc}
}

// PromptBuilder formats the hosted-model prompts.
type PromptBuilder struct {
	counter       TokenCounter
	historyBudget int
	logger        *slog.Logger
}

func NewPromptBuilder(counter TokenCounter, historyBudget int) *PromptBuilder {
	if counter == nil {
		counter = wordCounter{}
	}
	return &PromptBuilder{
		counter:       counter,
		historyBudget: historyBudget,
		logger:        logging.NewModuleLogger("core", "prompts"),
	}
}

// Assistant builds the legal-guidance prompt with the session memory and as
// much recent transcript as fits the token budget.
func (b *PromptBuilder) Assistant(input string, session *ConversationSession) string {
	var sb strings.Builder
	sb.WriteString(assistantInstruction)
	sb.WriteString("\n\nChat session memory (answer from it when the user asks about something stored here):\n")
	sb.WriteString(session.Memory.String())

	if history := b.History(session.Messages); history != "" {
		sb.WriteString("\n\nRecent conversation:\n")
		sb.WriteString(history)
	}

	sb.WriteString("\n\nUser: ")
	sb.WriteString(input)
	return sb.String()
}

func (b *PromptBuilder) Emergency(input string) string {
	return emergencyInstruction + "\n\nUser: " + input
}

// History renders the newest messages that fit the budget, oldest first.
func (b *PromptBuilder) History(messages []store.Message) string {
	if b.historyBudget <= 0 {
		return ""
	}

	var lines []string
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		line := fmt.Sprintf("%s: %s", speaker(messages[i].Role), messages[i].Content)
		cost := b.counter.CountTokens(line)
		if used+cost > b.historyBudget {
			break
		}
		used += cost
		lines = append(lines, line)
	}
	if dropped := len(messages) - len(lines); dropped > 0 && len(messages) > 0 {
		b.logger.Debug("Trimmed conversation history for prompt", "dropped", dropped, "tokens", used)
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func speaker(role store.Role) string {
	if role == store.RoleUser {
		return "User"
	}
	return "Assistant"
}
