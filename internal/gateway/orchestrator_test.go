package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"voltiq/internal/config"
	"voltiq/internal/domain"
	"voltiq/internal/provider"
	"voltiq/internal/store"
)

// ============================================================================
// Mocks
// ============================================================================

type mockStore struct {
	turns  []store.Turn
	titles map[string]string

	// appendErr fails AppendTurn; when appendErrRole is set only turns
	// with that role fail.
	appendErr     error
	appendErrRole string
}

func newMockStore() *mockStore {
	return &mockStore{titles: make(map[string]string)}
}

func (m *mockStore) CreateChat(ctx context.Context, title string) (*store.Conversation, error) {
	return &store.Conversation{ID: "chat-1", Title: title}, nil
}

func (m *mockStore) GetChat(ctx context.Context, chatID string) (*store.Conversation, error) {
	return &store.Conversation{ID: chatID}, nil
}

func (m *mockStore) ListChats(ctx context.Context) ([]store.Conversation, error) {
	return nil, nil
}

func (m *mockStore) UpdateTitle(ctx context.Context, chatID, title string) error {
	m.titles[chatID] = title
	return nil
}

func (m *mockStore) DeleteChat(ctx context.Context, chatID string) error { return nil }

func (m *mockStore) AppendTurn(ctx context.Context, turn *store.Turn) error {
	if m.appendErr != nil && (m.appendErrRole == "" || m.appendErrRole == turn.Role) {
		return m.appendErr
	}
	turn.ID = "turn-" + turn.Role
	turn.CreatedAt = time.Now()
	m.turns = append(m.turns, *turn)
	return nil
}

func (m *mockStore) ListTurns(ctx context.Context, chatID string, limit int) ([]store.Turn, error) {
	return m.turns, nil
}

type mockProvider struct {
	tools    []provider.ToolSchema
	invoke   func(name string, args map[string]any) (*provider.ToolResult, error)
	invoked  []string
	closed   int
	toolsErr error
}

func (m *mockProvider) Tools(ctx context.Context) ([]provider.ToolSchema, error) {
	return m.tools, m.toolsErr
}

func (m *mockProvider) Invoke(ctx context.Context, name string, args map[string]any) (*provider.ToolResult, error) {
	m.invoked = append(m.invoked, name)
	if m.invoke != nil {
		return m.invoke(name, args)
	}
	return &provider.ToolResult{Text: "ok"}, nil
}

func (m *mockProvider) Close() error {
	m.closed++
	return nil
}

// mockModel replays one scripted event sequence per Stream call.
type mockModel struct {
	scripts [][]StreamEvent
	errs    []error
	calls   int

	// observed store state at the moment of each call
	turnsAtCall []int
	st          *mockStore
}

func (m *mockModel) Stream(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error) {
	call := m.calls
	m.calls++
	if m.st != nil {
		m.turnsAtCall = append(m.turnsAtCall, len(m.st.turns))
	}
	if call < len(m.errs) && m.errs[call] != nil {
		return nil, m.errs[call]
	}
	script := m.scripts[call]
	ch := make(chan StreamEvent, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// ============================================================================
// Fixture
// ============================================================================

type fixture struct {
	st        *mockStore
	model     *mockModel
	providers []*mockProvider
	newProv   func() *mockProvider
	provErr   error
	orch      *Orchestrator
}

func newFixture(t *testing.T, model *mockModel) *fixture {
	t.Helper()

	f := &fixture{st: newMockStore(), model: model}
	model.st = f.st

	f.newProv = func() *mockProvider { return &mockProvider{} }

	factory := func(ctx context.Context) (ToolProvider, error) {
		if f.provErr != nil {
			return nil, f.provErr
		}
		p := f.newProv()
		f.providers = append(f.providers, p)
		return p, nil
	}

	var delays []time.Duration
	policy := instantPolicy(&delays)

	profile := config.ModelProfile{MaxOutputTokens: 1024, Temperature: 0.7, MaxToolRounds: 4}
	f.orch = NewOrchestrator(model, f.st, factory, policy, profile, testLogger())
	return f
}

func userMessage(text string) []TurnInput {
	return []TurnInput{{Role: store.RoleUser, Content: text}}
}

func done(text, stopReason string, uses ...Block) StreamEvent {
	return StreamEvent{Done: &Turn{Text: text, StopReason: stopReason, ToolUses: uses}}
}

// failingWriter stands in for a client that drops the connection after
// receiving a fixed number of chunks.
type failingWriter struct {
	allowed int
	writes  int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.allowed {
		return 0, errors.New("client gone")
	}
	return len(p), nil
}

// ============================================================================
// Tests
// ============================================================================

func TestSendMessage_StreamsAndPersists(t *testing.T) {
	model := &mockModel{scripts: [][]StreamEvent{{
		{TextDelta: "Hel"},
		{TextDelta: "lo"},
		done("Hello", "end_turn"),
	}}}
	f := newFixture(t, model)

	var out bytes.Buffer
	err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("hi"), &out)
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if out.String() != "Hello" {
		t.Errorf("expected relayed output %q, got %q", "Hello", out.String())
	}
	if len(f.st.turns) != 2 {
		t.Fatalf("expected user + assistant turns, got %d", len(f.st.turns))
	}
	if f.st.turns[0].Role != store.RoleUser || f.st.turns[1].Role != store.RoleAssistant {
		t.Errorf("turns out of order: %s, %s", f.st.turns[0].Role, f.st.turns[1].Role)
	}
	if f.st.turns[1].Content != "Hello" {
		t.Errorf("assistant content %q", f.st.turns[1].Content)
	}

	// The user turn must already be durable when the model is called.
	if model.turnsAtCall[0] != 1 {
		t.Errorf("expected 1 persisted turn at model call, got %d", model.turnsAtCall[0])
	}

	if len(f.providers) != 1 || f.providers[0].closed != 1 {
		t.Errorf("expected one provider closed exactly once, got %+v", f.providers)
	}
}

func TestSendMessage_ValidatesInput(t *testing.T) {
	model := &mockModel{}
	f := newFixture(t, model)

	tests := []struct {
		name     string
		messages []TurnInput
	}{
		{"empty list", nil},
		{"empty content", userMessage("")},
		{"assistant terminal", []TurnInput{{Role: store.RoleAssistant, Content: "hi"}}},
		{"unknown role", []TurnInput{{Role: "tool", Content: "hi"}}},
		{"oversized content", userMessage(strings.Repeat("x", maxMessageLength+1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := f.orch.SendMessage(context.Background(), "chat-1", tt.messages, &out)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	if len(f.st.turns) != 0 {
		t.Errorf("validation failures must not persist, got %d turns", len(f.st.turns))
	}
	if model.calls != 0 || len(f.providers) != 0 {
		t.Errorf("validation failures must not start anything")
	}
}

func TestSendMessage_RetriesOverload(t *testing.T) {
	model := &mockModel{
		errs: []error{domain.ErrOverloaded, nil},
		scripts: [][]StreamEvent{
			nil,
			{{TextDelta: "ok"}, done("ok", "end_turn")},
		},
	}
	f := newFixture(t, model)

	var out bytes.Buffer
	if err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("hi"), &out); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if model.calls != 2 {
		t.Errorf("expected 2 model calls, got %d", model.calls)
	}
	// Each attempt gets a fresh provider, and every one is closed.
	if len(f.providers) != 2 {
		t.Fatalf("expected a fresh provider per attempt, got %d", len(f.providers))
	}
	for i, p := range f.providers {
		if p.closed != 1 {
			t.Errorf("provider %d closed %d times", i, p.closed)
		}
	}
	if len(f.st.turns) != 2 {
		t.Errorf("expected user + assistant turns, got %d", len(f.st.turns))
	}
}

func TestSendMessage_TerminalFailureKeepsUserTurn(t *testing.T) {
	model := &mockModel{errs: []error{errors.New("boom")}, scripts: [][]StreamEvent{nil}}
	f := newFixture(t, model)

	var out bytes.Buffer
	err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("hi"), &out)
	if err == nil {
		t.Fatal("expected error")
	}

	if model.calls != 1 {
		t.Errorf("non-overload failures must not retry, got %d calls", model.calls)
	}
	if len(f.st.turns) != 1 || f.st.turns[0].Role != store.RoleUser {
		t.Fatalf("expected only the user turn to survive, got %+v", f.st.turns)
	}
	if f.providers[0].closed != 1 {
		t.Errorf("provider must be closed on the failure path")
	}
}

func TestSendMessage_NoRetryAfterPartialOutput(t *testing.T) {
	model := &mockModel{scripts: [][]StreamEvent{{
		{TextDelta: "partial"},
		{Err: domain.ErrOverloaded},
	}}}
	f := newFixture(t, model)

	var out bytes.Buffer
	err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("hi"), &out)
	if err == nil {
		t.Fatal("expected error")
	}

	if model.calls != 1 {
		t.Errorf("overload after partial output must not retry, got %d calls", model.calls)
	}
	if len(f.st.turns) != 1 {
		t.Errorf("no assistant turn may be written, got %d turns", len(f.st.turns))
	}
}

func TestSendMessage_ClientDisconnectMidStream(t *testing.T) {
	model := &mockModel{scripts: [][]StreamEvent{{
		{TextDelta: "one "},
		{TextDelta: "two "},
		{TextDelta: "three"},
		done("one two three", "end_turn"),
	}}}
	f := newFixture(t, model)

	out := &failingWriter{allowed: 1}
	err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("hi"), out)
	if err == nil {
		t.Fatal("expected error")
	}

	if model.calls != 1 {
		t.Errorf("a gone client must not trigger retries, got %d calls", model.calls)
	}
	if len(f.st.turns) != 1 || f.st.turns[0].Role != store.RoleUser {
		t.Fatalf("expected only the user turn to survive, got %+v", f.st.turns)
	}
	if f.providers[0].closed != 1 {
		t.Errorf("provider closed %d times", f.providers[0].closed)
	}
}

func TestSendMessage_ProviderStartFailure(t *testing.T) {
	model := &mockModel{}
	f := newFixture(t, model)
	f.provErr = errors.New("exec: voltiq-tools: not found")

	var out bytes.Buffer
	err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("hi"), &out)
	if err == nil {
		t.Fatal("expected error")
	}

	if model.calls != 0 {
		t.Errorf("model must not be called without a provider, got %d calls", model.calls)
	}
	if len(f.st.turns) != 1 || f.st.turns[0].Role != store.RoleUser {
		t.Fatalf("expected only the user turn to survive, got %+v", f.st.turns)
	}
	if out.Len() != 0 {
		t.Errorf("nothing may reach the client, got %q", out.String())
	}
}

func TestSendMessage_ToolCatalogFailure(t *testing.T) {
	model := &mockModel{}
	f := newFixture(t, model)
	f.newProv = func() *mockProvider {
		return &mockProvider{toolsErr: errors.New("transport closed")}
	}

	var out bytes.Buffer
	err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("hi"), &out)
	if err == nil {
		t.Fatal("expected error")
	}

	if model.calls != 0 {
		t.Errorf("model must not be called without a catalog, got %d calls", model.calls)
	}
	if len(f.st.turns) != 1 || f.st.turns[0].Role != store.RoleUser {
		t.Fatalf("expected only the user turn to survive, got %+v", f.st.turns)
	}
	if f.providers[0].closed != 1 {
		t.Errorf("provider closed %d times", f.providers[0].closed)
	}
}

func TestSendMessage_AssistantWriteFailure(t *testing.T) {
	model := &mockModel{scripts: [][]StreamEvent{{
		{TextDelta: "Hello"},
		done("Hello", "end_turn"),
	}}}
	f := newFixture(t, model)
	f.st.appendErr = errors.New("connection refused")
	f.st.appendErrRole = store.RoleAssistant

	var out bytes.Buffer
	err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("hi"), &out)
	if err == nil {
		t.Fatal("expected error")
	}

	// The reply already reached the client, only the persist failed.
	if out.String() != "Hello" {
		t.Errorf("relayed output %q", out.String())
	}
	if len(f.st.turns) != 1 || f.st.turns[0].Role != store.RoleUser {
		t.Fatalf("expected only the user turn to survive, got %+v", f.st.turns)
	}
	if f.providers[0].closed != 1 {
		t.Errorf("provider closed %d times", f.providers[0].closed)
	}
}

func TestSendMessage_EmptyTextPersistsNothing(t *testing.T) {
	model := &mockModel{scripts: [][]StreamEvent{{done("  ", "end_turn")}}}
	f := newFixture(t, model)

	var out bytes.Buffer
	if err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("hi"), &out); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if len(f.st.turns) != 1 {
		t.Fatalf("blank assistant text must not be persisted, got %d turns", len(f.st.turns))
	}
}

func TestSendMessage_ToolRound(t *testing.T) {
	input := json.RawMessage(`{"month":"04"}`)
	model := &mockModel{scripts: [][]StreamEvent{
		{done("", "tool_use", Block{
			Type:      "tool_use",
			ToolID:    "tu-1",
			ToolName:  "get_daily_power_usage_by_month",
			ToolInput: input,
		})},
		{{TextDelta: "April usage..."}, done("April usage...", "end_turn")},
	}}
	f := newFixture(t, model)

	var gotArgs map[string]any
	f.newProv = func() *mockProvider {
		return &mockProvider{invoke: func(name string, args map[string]any) (*provider.ToolResult, error) {
			gotArgs = args
			return &provider.ToolResult{Text: "Daily usage for month 04: ..."}, nil
		}}
	}

	var out bytes.Buffer
	if err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("show april"), &out); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if model.calls != 2 {
		t.Fatalf("expected a second model call after the tool result, got %d", model.calls)
	}
	if len(f.providers) != 1 {
		t.Fatalf("tool rounds reuse the attempt's provider, got %d providers", len(f.providers))
	}
	if got := f.providers[0].invoked; len(got) != 1 || got[0] != "get_daily_power_usage_by_month" {
		t.Fatalf("unexpected invocations %v", got)
	}
	if gotArgs["month"] != "04" {
		t.Errorf("tool args not forwarded, got %v", gotArgs)
	}

	assistant := f.st.turns[1]
	if len(assistant.ToolInvocations) != 1 {
		t.Fatalf("expected 1 recorded invocation, got %d", len(assistant.ToolInvocations))
	}
	inv := assistant.ToolInvocations[0]
	if inv.State != store.InvocationCompleted || inv.Name != "get_daily_power_usage_by_month" {
		t.Errorf("unexpected invocation %+v", inv)
	}
}

func TestSendMessage_ToolErrorRecordedAsFailed(t *testing.T) {
	model := &mockModel{scripts: [][]StreamEvent{
		{done("", "tool_use", Block{Type: "tool_use", ToolID: "tu-1", ToolName: "compare_power_usage"})},
		{done("Sorry, that did not work.", "end_turn")},
	}}
	f := newFixture(t, model)

	f.newProv = func() *mockProvider {
		return &mockProvider{invoke: func(name string, args map[string]any) (*provider.ToolResult, error) {
			return &provider.ToolResult{Text: "comparison type must be month, date or timeRange", IsError: true}, nil
		}}
	}

	var out bytes.Buffer
	if err := f.orch.SendMessage(context.Background(), "chat-1", userMessage("compare"), &out); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	inv := f.st.turns[1].ToolInvocations[0]
	if inv.State != store.InvocationFailed {
		t.Errorf("expected failed state, got %q", inv.State)
	}
}

func TestSendMessage_DerivesTitleFromFirstUserMessage(t *testing.T) {
	model := &mockModel{scripts: [][]StreamEvent{{done("sure", "end_turn")}}}
	f := newFixture(t, model)

	long := strings.Repeat("electricity usage trends ", 8)
	var out bytes.Buffer
	if err := f.orch.SendMessage(context.Background(), "chat-1", userMessage(long), &out); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	title := f.st.titles["chat-1"]
	if title == "" {
		t.Fatal("expected a derived title")
	}
	if n := len([]rune(title)); n > titleMaxRunes {
		t.Errorf("title too long: %d runes", n)
	}
}

func TestSendMessage_KeepsTitleOnLaterMessages(t *testing.T) {
	model := &mockModel{scripts: [][]StreamEvent{{done("sure", "end_turn")}}}
	f := newFixture(t, model)

	messages := []TurnInput{
		{Role: store.RoleAssistant, Content: "Hello!"},
		{Role: store.RoleUser, Content: "first question"},
		{Role: store.RoleAssistant, Content: "first answer"},
		{Role: store.RoleUser, Content: "second question"},
	}

	var out bytes.Buffer
	if err := f.orch.SendMessage(context.Background(), "chat-1", messages, &out); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if title, ok := f.st.titles["chat-1"]; ok {
		t.Errorf("later messages must not retitle the chat, got %q", title)
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short stays", "power usage in april", "power usage in april"},
		{"whitespace collapses", "show   me\n  a chart", "show me a chart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveTitle(tt.in); got != tt.want {
				t.Errorf("deriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := deriveTitle(strings.Repeat("abc ", 40))
	if n := len([]rune(long)); n > titleMaxRunes {
		t.Errorf("truncated title still %d runes", n)
	}
	if !strings.HasSuffix(long, "…") {
		t.Errorf("truncated title should end with an ellipsis, got %q", long)
	}
}
