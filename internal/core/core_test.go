package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paklaw.com/paklaw-assist/internal/retrieval"
	"paklaw.com/paklaw-assist/internal/store"
	"paklaw.com/paklaw-assist/internal/textproc"
)

type identityLemmatizer struct{}

func (identityLemmatizer) Lemma(word string) string { return word }

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fakeProber struct {
	online bool
	calls  int
}

func (p *fakeProber) IsOnline(context.Context) bool {
	p.calls++
	return p.online
}

func testResponder(t *testing.T) *retrieval.Responder {
	t.Helper()
	entries := []retrieval.Entry{
		{Topic: "FIR registration at police station", Details: "Go to the police station and ask the duty officer to register an FIR."},
		{Topic: "Traffic challan payment", Details: "Pay the challan online or at a designated bank branch."},
		{Topic: "Lost CNIC replacement NADRA", Details: "Visit a NADRA registration centre."},
		{Topic: "Passport renewal", Details: "Visit the passport office."},
	}
	ix, err := retrieval.BuildIndex(entries, textproc.NewWithLemmatizer(identityLemmatizer{}))
	require.NoError(t, err)
	return retrieval.NewResponder(ix, retrieval.DefaultThreshold)
}

func newTestRouter(t *testing.T, gen Generator, prober Prober) *Router {
	t.Helper()
	return NewRouter(gen, prober, testResponder(t), NewPromptBuilder(nil, 200))
}

func TestDeriveChatTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short", "Lost my CNIC", "Lost my CNIC"},
		{"truncated", "What are my rights during arrest procedures in Punjab today", "What are my rights during arre..."},
		{"empty", "", "New Chat"},
		{"whitespace", "   \t ", "New Chat"},
		{"collapses spaces", "  FIR   kaise   darj  karein ", "FIR kaise darj karein"},
		{"exactly thirty", "abcdefghij abcdefghij abcdefgh", "abcdefghij abcdefghij abcdefgh"},
		{"ten words max", "a b c d e f g h i j k l", "a b c d e f g h i j"},
		{"multibyte", strings.Repeat("ب", 40), strings.Repeat("ب", 30) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveChatTitle(tt.input)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(strings.Fields(strings.TrimSuffix(got, "..."))), 10)
		})
	}
}

func TestDetectProvinces(t *testing.T) {
	assert.Equal(t, []string{"Punjab"}, DetectProvinces("I live in Lahore, Punjab."))
	assert.Equal(t, []string{"Sindh", "Khyber Pakhtunkhwa"}, DetectProvinces("Moving from Karachi to KPK"))
	assert.Equal(t, []string{"Gilgit-Baltistan"}, DetectProvinces("gilgit-baltistan police"))
	assert.Empty(t, DetectProvinces("punjabi food"))
	assert.Empty(t, DetectProvinces(""))
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	assert.True(t, m.Add(FactProvince, "Punjab"))
	assert.False(t, m.Add(FactProvince, "punjab"))
	assert.Equal(t, "Province: [Punjab]; Problem: []", m.String())

	clone := m.Clone()
	clone.Add(FactProblem, "x")
	assert.Empty(t, m[FactProblem])
}

func TestRouter_EmergencyIgnoresReachability(t *testing.T) {
	ctx := context.Background()
	for _, online := range []bool{true, false} {
		gen := &fakeGenerator{reply: "Call 15 now."}
		prober := &fakeProber{online: online}
		r := newTestRouter(t, gen, prober)
		session := NewConversationSession()

		reply, err := r.Route(ctx, "I am receiving threats from my neighbor", session)
		require.NoError(t, err)
		assert.Equal(t, RouteEmergency, reply.Route)
		assert.Equal(t, "Call 15 now.", reply.Text)
		assert.Zero(t, prober.calls)
		require.Equal(t, 1, gen.calls())
		assert.Contains(t, gen.prompts[0], "EMERGENCY MODE")
	}
}

func TestRouter_EmergencyFallback(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{err: &ServiceError{Op: "generate", Err: errors.New("quota")}}, &fakeProber{})
	reply, err := r.Route(context.Background(), "Someone tried to KIDNAP my brother", NewConversationSession())
	require.NoError(t, err)
	assert.Equal(t, RouteEmergency, reply.Route)
	assert.True(t, reply.Degraded)
	assert.Equal(t, EmergencyFallbackMessage, reply.Text)

	r = newTestRouter(t, nil, &fakeProber{online: true})
	reply, err = r.Route(context.Background(), "violence at home", NewConversationSession())
	require.NoError(t, err)
	assert.Equal(t, EmergencyFallbackMessage, reply.Text)
}

func TestRouter_OfflineWhenUnreachable(t *testing.T) {
	gen := &fakeGenerator{reply: "online"}
	r := newTestRouter(t, gen, &fakeProber{online: false})
	session := NewConversationSession()

	reply, err := r.Route(context.Background(), "how do I pay a traffic challan", session)
	require.NoError(t, err)
	assert.Equal(t, RouteOffline, reply.Route)
	assert.Equal(t, "Pay the challan online or at a designated bank branch.", reply.Text)
	assert.Zero(t, gen.calls())
}

func TestRouter_OfflineNoMatch(t *testing.T) {
	r := newTestRouter(t, nil, &fakeProber{online: true})
	reply, err := r.Route(context.Background(), "weather tomorrow", NewConversationSession())
	require.NoError(t, err)
	assert.Equal(t, retrieval.NotAvailableMessage, reply.Text)
}

func TestRouter_OnlineUsesMemoryAndHistory(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{reply: "Here are the steps."}
	r := newTestRouter(t, gen, &fakeProber{online: true})
	session := NewConversationSession()

	_, err := r.Route(ctx, "I live in Lahore", session)
	require.NoError(t, err)
	reply, err := r.Route(ctx, "how do I pay a traffic challan", session)
	require.NoError(t, err)

	assert.Equal(t, RouteOnline, reply.Route)
	assert.Equal(t, "Here are the steps.", reply.Text)
	last := gen.prompts[len(gen.prompts)-1]
	assert.Contains(t, last, "Province: [Punjab]")
	assert.Contains(t, last, "Problem: [Traffic challan payment]")
	assert.Contains(t, last, "User: I live in Lahore")
	assert.True(t, strings.HasSuffix(last, "User: how do I pay a traffic challan"))
}

func TestRouter_OnlineFailureFallsBackOffline(t *testing.T) {
	gen := &fakeGenerator{err: &ServiceError{Op: "generate", Err: context.DeadlineExceeded}}
	r := newTestRouter(t, gen, &fakeProber{online: true})

	reply, err := r.Route(context.Background(), "how do I pay a traffic challan", NewConversationSession())
	require.NoError(t, err)
	assert.True(t, reply.Degraded)
	assert.Equal(t, RouteOffline, reply.Route)
	assert.True(t, strings.HasPrefix(reply.Text, AssistantUnavailableNotice))
	assert.True(t, strings.HasSuffix(reply.Text, "Pay the challan online or at a designated bank branch."))
}

func TestRouter_TurnsAlternate(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, nil, &fakeProber{})
	session := NewConversationSession()

	_, err := r.Route(ctx, "  how do I pay a traffic challan  ", session)
	require.NoError(t, err)
	chatID := session.ChatID
	_, err = r.Route(ctx, "passport renewal", session)
	require.NoError(t, err)

	require.Len(t, session.Messages, 4)
	for i, m := range session.Messages {
		if i%2 == 0 {
			assert.Equal(t, store.RoleUser, m.Role)
		} else {
			assert.Equal(t, store.RoleBot, m.Role)
		}
	}
	assert.Equal(t, "how do I pay a traffic challan", session.Messages[0].Content)
	assert.Equal(t, chatID, session.ChatID, "chat id is fixed by the first message")
	assert.Equal(t, "how do I pay a traffic challan", session.Title)
}

func TestRouter_EmptyMessage(t *testing.T) {
	r := newTestRouter(t, nil, &fakeProber{})
	session := NewConversationSession()

	_, err := r.Route(context.Background(), "   ", session)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.False(t, session.Started)
	assert.Empty(t, session.Messages)
}

func TestPromptBuilder_HistoryBudget(t *testing.T) {
	messages := []store.Message{
		{Role: store.RoleUser, Content: "one two three"},
		{Role: store.RoleBot, Content: "four five six"},
		{Role: store.RoleUser, Content: "seven eight nine"},
	}

	b := NewPromptBuilder(wordCounter{}, 10)
	// each line is four words, counted as five tokens
	assert.Equal(t, "Assistant: four five six\nUser: seven eight nine", b.History(messages))

	assert.Empty(t, NewPromptBuilder(wordCounter{}, 0).History(messages))
	assert.Empty(t, NewPromptBuilder(wordCounter{}, 2).History(messages))
}

func TestTokenCounter(t *testing.T) {
	c := NewTokenCounter()
	assert.Zero(t, c.CountTokens(""))
	assert.Positive(t, c.CountTokens("How do I register an FIR in Lahore?"))
}

func newTestCoordinator(t *testing.T, chats ChatStore, r *Router) *SessionCoordinator {
	t.Helper()
	c := NewSessionCoordinator(context.Background(), chats, r, "ayesha@example.com", "Ayesha")
	tick := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}
	return c
}

func TestCoordinator_SendPersistsEveryTurn(t *testing.T) {
	ctx := context.Background()
	chats := store.NewFileStore(filepath.Join(t.TempDir(), "chats.json"))
	c := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))

	_, err := c.SendMessage(ctx, "how do I pay a traffic challan")
	require.NoError(t, err)

	view := c.Snapshot()
	archive := chats.LoadArchive(ctx, "ayesha@example.com")
	require.Contains(t, archive, view.ChatID)
	assert.Len(t, archive[view.ChatID].Messages, 2)
	assert.Equal(t, "how do I pay a traffic challan", archive[view.ChatID].Title)
	assert.Equal(t, []string{"Traffic challan payment"}, view.Memory[FactProblem])
}

func TestCoordinator_NewChatAndSwitch(t *testing.T) {
	ctx := context.Background()
	chats := store.NewFileStore(filepath.Join(t.TempDir(), "chats.json"))
	c := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))

	require.NoError(t, c.NewChat(ctx), "new chat on an empty session is a no-op")
	assert.Empty(t, c.ListChats(""))

	_, err := c.SendMessage(ctx, "FIR registration in Karachi")
	require.NoError(t, err)
	first := c.Snapshot().ChatID

	require.NoError(t, c.NewChat(ctx))
	assert.False(t, c.Snapshot().Started)

	_, err = c.SendMessage(ctx, "passport renewal")
	require.NoError(t, err)
	second := c.Snapshot().ChatID
	assert.NotEqual(t, first, second)

	list := c.ListChats("")
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID, "newest first")

	filtered := c.ListChats("FIR")
	require.Len(t, filtered, 1)
	assert.Equal(t, first, filtered[0].ID)

	require.NoError(t, c.SwitchChat(ctx, first))
	view := c.Snapshot()
	assert.Equal(t, first, view.ChatID)
	assert.Equal(t, "FIR registration in Karachi", view.Title)
	assert.Len(t, view.Messages, 2)
	assert.Equal(t, []string{"Sindh"}, view.Memory[FactProvince])

	err = c.SwitchChat(ctx, "missing")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestCoordinator_ListChatsWithinOneSecond(t *testing.T) {
	ctx := context.Background()
	chats := store.NewFileStore(filepath.Join(t.TempDir(), "chats.json"))
	c := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))
	tick := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}

	var ids []string
	for _, msg := range []string{"passport renewal", "lost CNIC", "FIR registration"} {
		_, err := c.SendMessage(ctx, msg)
		require.NoError(t, err)
		ids = append(ids, c.Snapshot().ChatID)
		require.NoError(t, c.NewChat(ctx))
	}

	list := c.ListChats("")
	require.Len(t, list, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, "2025-01-01T10:00:00.006000000Z", list[0].Timestamp)
}

func TestCoordinator_ListChatsMixedTimestamps(t *testing.T) {
	ctx := context.Background()
	chats := store.NewFileStore(filepath.Join(t.TempDir(), "chats.json"))
	require.NoError(t, chats.SaveArchive(ctx, "ayesha@example.com", store.ChatArchive{
		"whole":  {Title: "whole", Timestamp: "2025-01-01T10:00:01Z"},
		"frac":   {Title: "frac", Timestamp: "2025-01-01T10:00:01.5Z"},
		"legacy": {Title: "legacy", Timestamp: "2025-03-01T09:30:00.123456"},
	}))
	c := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))

	list := c.ListChats("")
	require.Len(t, list, 3)
	assert.Equal(t, []string{"frac", "whole", "legacy"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestCoordinator_LogoutFlushes(t *testing.T) {
	ctx := context.Background()
	chats := store.NewFileStore(filepath.Join(t.TempDir(), "chats.json"))
	c := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))

	_, err := c.SendMessage(ctx, "lost CNIC")
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))

	_, err = c.SendMessage(ctx, "hello")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, c.NewChat(ctx), ErrSessionClosed)

	again := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))
	assert.Len(t, again.ListChats(""), 1)
}

type failingStore struct {
	ChatStore
	fail     bool
	readFail bool
	saves    int
}

func (s *failingStore) ReadArchive(ctx context.Context, email string) (store.ChatArchive, error) {
	if s.readFail {
		return nil, errors.New("database is locked")
	}
	return s.ChatStore.ReadArchive(ctx, email)
}

func (s *failingStore) SaveArchive(ctx context.Context, email string, archive store.ChatArchive) error {
	s.saves++
	if s.fail {
		return errors.New("disk full")
	}
	return s.ChatStore.SaveArchive(ctx, email, archive)
}

func TestCoordinator_SaveFailure(t *testing.T) {
	ctx := context.Background()
	chats := &failingStore{ChatStore: store.NewFileStore(filepath.Join(t.TempDir(), "chats.json")), fail: true}
	c := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))

	reply, err := c.SendMessage(ctx, "passport renewal")
	require.NoError(t, err, "a failed save does not lose the reply")
	assert.Equal(t, "Visit the passport office.", reply.Text)

	assert.Error(t, c.NewChat(ctx))
	assert.True(t, c.Snapshot().Started, "session survives a failed flush")

	assert.Error(t, c.Logout(ctx))
	_, err = c.SendMessage(ctx, "hello")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCoordinator_SkipsSaveWhenReloadFails(t *testing.T) {
	ctx := context.Background()
	fs := store.NewFileStore(filepath.Join(t.TempDir(), "chats.json"))
	require.NoError(t, fs.SaveArchive(ctx, "ayesha@example.com", store.ChatArchive{
		"earlier": {Title: "earlier", Messages: []store.Message{{Role: store.RoleUser, Content: "hi"}}},
	}))
	chats := &failingStore{ChatStore: fs}
	c := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))

	chats.readFail = true
	reply, err := c.SendMessage(ctx, "passport renewal")
	require.NoError(t, err)
	assert.Equal(t, "Visit the passport office.", reply.Text)
	assert.Zero(t, chats.saves)
	assert.Error(t, c.NewChat(ctx))

	chats.readFail = false
	require.NoError(t, c.NewChat(ctx))
	assert.Equal(t, 1, chats.saves)
	assert.Len(t, fs.LoadArchive(ctx, "ayesha@example.com"), 2)
}

func TestCoordinator_ConcurrentSessionsOfSameUser(t *testing.T) {
	ctx := context.Background()
	chats := store.NewFileStore(filepath.Join(t.TempDir(), "chats.json"))
	a := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))
	b := newTestCoordinator(t, chats, newTestRouter(t, nil, &fakeProber{}))

	_, err := a.SendMessage(ctx, "passport renewal")
	require.NoError(t, err)
	_, err = b.SendMessage(ctx, "lost CNIC")
	require.NoError(t, err)

	assert.Len(t, chats.LoadArchive(ctx, "ayesha@example.com"), 2)
}

func TestHTTPProber(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	ctx := context.Background()
	assert.True(t, NewHTTPProber([]string{bad.URL, ok.URL}, time.Second).IsOnline(ctx))
	assert.False(t, NewHTTPProber([]string{bad.URL}, time.Second).IsOnline(ctx))
	assert.False(t, NewHTTPProber([]string{"http://127.0.0.1:1"}, 200*time.Millisecond).IsOnline(ctx))
	assert.False(t, NewHTTPProber(nil, time.Second).IsOnline(ctx))
}

func TestHTTPProber_ZeroTimeoutUsesDefault(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	p := NewHTTPProber([]string{ok.URL}, 0)
	assert.Equal(t, defaultProbeTimeout, p.timeout)
	assert.True(t, p.IsOnline(context.Background()))
	assert.Equal(t, defaultProbeTimeout, NewHTTPProber(nil, -time.Second).timeout)
}

func TestLLMService_ZeroTimeoutUsesDefault(t *testing.T) {
	svc, err := NewLLMService(context.Background(), "", "", 0)
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, defaultLLMTimeout, svc.timeout)
}

func TestLLMService_NoAPIKey(t *testing.T) {
	svc, err := NewLLMService(context.Background(), "", "", time.Second)
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Generate(context.Background(), "hello")
	var serr *ServiceError
	assert.ErrorAs(t, err, &serr)
}
