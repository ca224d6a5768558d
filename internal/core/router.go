package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"paklaw.com/paklaw-assist/internal/logging"
	"paklaw.com/paklaw-assist/internal/retrieval"
	"paklaw.com/paklaw-assist/internal/store"
)

var ErrEmptyMessage = errors.New("message is empty")

// EmergencyKeywords trigger the safety route when any appears in the
// lowercased input, even inside a longer word ("threats", "harassment").
var EmergencyKeywords = []string{"danger", "threat", "harass", "violence", "kidnap"}

const (
	AssistantUnavailableNotice = "The online assistant is temporarily unavailable. Here is offline guidance instead:\n\n"
	EmergencyFallbackMessage   = "If you are in immediate danger, move to a safe place and call Police 15 now. " +
		"For online threats or blackmail, report to FIA Cybercrime at 1991. " +
		"Keep screenshots, recordings and timestamps as evidence and contact a trusted person. " +
		"Main aap ke saath hoon, stay calm."
)

type RouteKind string

const (
	RouteEmergency RouteKind = "emergency"
	RouteOnline    RouteKind = "online"
	RouteOffline   RouteKind = "offline"
)

// Reply is the bot message for one turn. Degraded is set when the hosted
// model failed and a fallback answer was used.
type Reply struct {
	Text     string    `json:"text"`
	Route    RouteKind `json:"route"`
	Degraded bool      `json:"degraded"`
}

// OfflineAnswerer is the local corpus lookup.
type OfflineAnswerer interface {
	Respond(text string) string
	Lookup(text string) (retrieval.Match, bool)
}

func IsEmergency(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range EmergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Router decides which responder answers a message and records the turn on
// the session.
type Router struct {
	generator Generator
	prober    Prober
	offline   OfflineAnswerer
	prompts   *PromptBuilder
	logger    *slog.Logger
}

// NewRouter wires the responders. A nil generator disables the online route;
// emergencies then get the fixed safety message.
func NewRouter(generator Generator, prober Prober, offline OfflineAnswerer, prompts *PromptBuilder) *Router {
	if prompts == nil {
		prompts = NewPromptBuilder(nil, 0)
	}
	return &Router{
		generator: generator,
		prober:    prober,
		offline:   offline,
		prompts:   prompts,
		logger:    logging.NewModuleLogger("core", "router"),
	}
}

// Route answers input and appends exactly one user and one bot message to
// session. Blank input is rejected without touching the session.
func (r *Router) Route(ctx context.Context, input string, session *ConversationSession) (Reply, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	if !session.Started {
		session.begin(text)
		r.logger.Info("Started chat", "chat_id", session.ChatID, "title", session.Title)
	}
	r.remember(session, text)

	var reply Reply
	switch {
	case IsEmergency(text):
		reply = r.emergency(ctx, text)
	case r.online(ctx):
		reply = r.assist(ctx, text, session)
	default:
		reply = Reply{Text: r.offline.Respond(text), Route: RouteOffline}
	}

	session.append(store.RoleUser, text)
	session.append(store.RoleBot, reply.Text)

	r.logger.Debug("Routed message", "chat_id", session.ChatID, "route", reply.Route, "degraded", reply.Degraded)
	return reply, nil
}

// RebuildMemory re-extracts facts from every user message of a resumed chat.
func (r *Router) RebuildMemory(session *ConversationSession) {
	session.Memory = NewMemory()
	for _, m := range session.Messages {
		if m.Role == store.RoleUser {
			r.remember(session, m.Content)
		}
	}
}

func (r *Router) remember(session *ConversationSession, text string) {
	for _, p := range DetectProvinces(text) {
		session.Memory.Add(FactProvince, p)
	}
	if match, ok := r.offline.Lookup(text); ok {
		session.Memory.Add(FactProblem, match.Entry.Topic)
	}
}

func (r *Router) online(ctx context.Context) bool {
	if r.generator == nil || r.prober == nil {
		return false
	}
	return r.prober.IsOnline(ctx)
}

func (r *Router) emergency(ctx context.Context, text string) Reply {
	if r.generator == nil {
		return Reply{Text: EmergencyFallbackMessage, Route: RouteEmergency, Degraded: true}
	}
	answer, err := r.generator.Generate(ctx, r.prompts.Emergency(text))
	if err != nil {
		r.logger.Warn("Emergency responder failed, using fixed safety message", "error", err)
		return Reply{Text: EmergencyFallbackMessage, Route: RouteEmergency, Degraded: true}
	}
	return Reply{Text: answer, Route: RouteEmergency}
}

func (r *Router) assist(ctx context.Context, text string, session *ConversationSession) Reply {
	answer, err := r.generator.Generate(ctx, r.prompts.Assistant(text, session))
	if err != nil {
		r.logger.Warn("Online assistant failed, falling back to offline corpus", "chat_id", session.ChatID, "error", err)
		return Reply{Text: AssistantUnavailableNotice + r.offline.Respond(text), Route: RouteOffline, Degraded: true}
	}
	return Reply{Text: answer, Route: RouteOnline}
}
