package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"voltiq/internal/config"
	"voltiq/internal/domain"
	"voltiq/internal/prompt"
	"voltiq/internal/store"
)

const (
	// maxMessageLength bounds a single user message.
	maxMessageLength = 4000

	// titleMaxRunes bounds the derived conversation title.
	titleMaxRunes = 48
)

// Orchestrator drives one assistant generation end to end. It owns the
// ordering guarantees: the user turn is persisted before the model is
// called, and the assistant turn is persisted only after the generation
// fully succeeds.
type Orchestrator struct {
	model     ModelClient
	store     store.Store
	providers ProviderFactory
	policy    Policy
	profile   config.ModelProfile
	logger    *slog.Logger
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(model ModelClient, st store.Store, providers ProviderFactory, policy Policy, profile config.ModelProfile, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		model:     model,
		store:     st,
		providers: providers,
		policy:    policy,
		profile:   profile,
		logger:    logger,
	}
}

// generation is the accumulated outcome of one successful attempt.
type generation struct {
	text        string
	invocations []store.ToolInvocation
}

// TurnInput is one entry of the inbound message list.
type TurnInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SendMessage takes the ordered message list ending in the new user
// message, persists that user turn, streams the assistant's reply to out
// as it is generated, and persists the finished assistant turn. On
// failure after the user turn is stored, the user turn remains and no
// assistant turn is written.
func (o *Orchestrator) SendMessage(ctx context.Context, chatID string, messages []TurnInput, out io.Writer) error {
	if err := validateMessages(messages); err != nil {
		return err
	}
	text := messages[len(messages)-1].Content

	userTurn := &store.Turn{
		ChatID:  chatID,
		Role:    store.RoleUser,
		Content: text,
	}
	// An insert against a missing conversation fails its foreign key
	// check, which the store reports as not found.
	if err := o.store.AppendTurn(ctx, userTurn); err != nil {
		return err
	}

	if firstUserMessage(messages) {
		if err := o.store.UpdateTitle(ctx, chatID, deriveTitle(text)); err != nil {
			// The generation is worth more than the title.
			o.logger.Warn("failed to update chat title",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()))
		}
	}

	history := make([]store.Turn, 0, len(messages))
	for _, m := range messages {
		history = append(history, store.Turn{ChatID: chatID, Role: m.Role, Content: m.Content})
	}

	sink := &relayWriter{w: out}
	var gen *generation

	err := o.policy.Do(ctx, o.logger, func(ctx context.Context, attempt int) error {
		g, err := o.attempt(ctx, history, sink)
		if err != nil {
			if sink.wrote && IsOverloaded(err) {
				// Output already reached the client, a retry would
				// duplicate it.
				return &permanentError{err}
			}
			return err
		}
		gen = g
		return nil
	})
	if err != nil {
		return err
	}

	if strings.TrimSpace(gen.text) == "" {
		o.logger.Warn("model produced no text, skipping assistant turn",
			slog.String("chat_id", chatID))
		return nil
	}

	assistantTurn := &store.Turn{
		ChatID:          chatID,
		Role:            store.RoleAssistant,
		Content:         gen.text,
		ToolInvocations: gen.invocations,
	}
	if err := o.store.AppendTurn(ctx, assistantTurn); err != nil {
		return fmt.Errorf("failed to store assistant message: %w", err)
	}

	return nil
}

// attempt runs one full generation against a fresh tool provider. The
// provider is closed before attempt returns, success or not.
func (o *Orchestrator) attempt(ctx context.Context, history []store.Turn, sink *relayWriter) (*generation, error) {
	prov, err := o.providers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start tool provider: %w", err)
	}
	defer func() {
		if cerr := prov.Close(); cerr != nil {
			o.logger.Warn("failed to close tool provider", slog.String("error", cerr.Error()))
		}
	}()

	tools, err := prov.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	p := prompt.Assemble(history, tools)
	messages := make([]Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		messages = append(messages, Message{
			Role:   m.Role,
			Blocks: []Block{{Type: "text", Text: m.Content}},
		})
	}

	gen := &generation{}

	for round := 0; ; round++ {
		turn, err := o.streamOnce(ctx, &ModelRequest{
			System:   p.System,
			Messages: messages,
			Tools:    tools,
		}, sink)
		if err != nil {
			return nil, err
		}

		gen.text += turn.Text

		if turn.StopReason != "tool_use" || len(turn.ToolUses) == 0 {
			return gen, nil
		}
		if round+1 >= o.profile.MaxToolRounds {
			o.logger.Warn("tool round limit reached",
				slog.Int("rounds", o.profile.MaxToolRounds))
			return gen, nil
		}

		assistantBlocks := make([]Block, 0, len(turn.ToolUses)+1)
		if turn.Text != "" {
			assistantBlocks = append(assistantBlocks, Block{Type: "text", Text: turn.Text})
		}
		assistantBlocks = append(assistantBlocks, turn.ToolUses...)
		messages = append(messages, Message{Role: "assistant", Blocks: assistantBlocks})

		// Register the whole round before dispatching, so every call the
		// model asked for is accounted for even while earlier ones run.
		invs := make([]store.ToolInvocation, len(turn.ToolUses))
		for i, use := range turn.ToolUses {
			invs[i] = store.ToolInvocation{
				Name:  use.ToolName,
				State: store.InvocationRequested,
			}
			if len(use.ToolInput) > 0 {
				_ = json.Unmarshal(use.ToolInput, &invs[i].Args)
			}
		}

		resultBlocks := make([]Block, 0, len(turn.ToolUses))
		for i, use := range turn.ToolUses {
			invs[i].State = store.InvocationExecuting
			result, err := prov.Invoke(ctx, use.ToolName, invs[i].Args)
			if err != nil {
				return nil, fmt.Errorf("tool %s failed: %w", use.ToolName, err)
			}

			invs[i].State = store.InvocationCompleted
			if result.IsError {
				invs[i].State = store.InvocationFailed
			}
			invs[i].Result = result.Text
			gen.invocations = append(gen.invocations, invs[i])

			resultBlocks = append(resultBlocks, Block{
				Type:       "tool_result",
				ToolID:     use.ToolID,
				ToolResult: result.Text,
				IsError:    result.IsError,
			})
		}
		messages = append(messages, Message{Role: "user", Blocks: resultBlocks})
	}
}

// streamOnce runs a single model call, relaying text deltas to the sink.
func (o *Orchestrator) streamOnce(ctx context.Context, req *ModelRequest, sink *relayWriter) (*Turn, error) {
	events, err := o.model.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var turn *Turn
	for event := range events {
		switch {
		case event.Err != nil:
			return nil, event.Err
		case event.Done != nil:
			turn = event.Done
		case event.TextDelta != "":
			if _, err := sink.Write([]byte(event.TextDelta)); err != nil {
				return nil, fmt.Errorf("failed to relay output: %w", err)
			}
		}
	}
	if turn == nil {
		return nil, fmt.Errorf("stream ended without a final message")
	}
	return turn, nil
}

// relayWriter remembers whether any bytes reached the client, which
// decides whether an overload is still retryable.
type relayWriter struct {
	w     io.Writer
	wrote bool
}

func (r *relayWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		r.wrote = true
	}
	return r.w.Write(p)
}

// permanentError stops the retry loop: it hides the wrapped error from
// errors.Is and errors.As on purpose.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

// validateMessages checks the inbound message list: non-empty, known
// roles, and a terminal user message with bounded non-empty content.
func validateMessages(messages []TurnInput) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: message list must not be empty", domain.ErrValidation)
	}
	for i := range messages {
		m := &messages[i]
		if err := validation.ValidateStruct(m,
			validation.Field(&m.Role, validation.Required, validation.In(store.RoleUser, store.RoleAssistant)),
			validation.Field(&m.Content, validation.Required),
		); err != nil {
			return fmt.Errorf("%w: message %d: %s", domain.ErrValidation, i, err.Error())
		}
	}
	last := messages[len(messages)-1]
	if last.Role != store.RoleUser {
		return fmt.Errorf("%w: message list must end with a user message", domain.ErrValidation)
	}
	if err := validation.Validate(last.Content, validation.RuneLength(1, maxMessageLength)); err != nil {
		return fmt.Errorf("%w: message: %s", domain.ErrValidation, err.Error())
	}
	return nil
}

// firstUserMessage reports whether the terminal entry is the first user
// message of the conversation. The opening greeting is an assistant turn,
// so a fresh chat still derives its title from the first real user
// message.
func firstUserMessage(messages []TurnInput) bool {
	for _, m := range messages[:len(messages)-1] {
		if m.Role == store.RoleUser {
			return false
		}
	}
	return true
}

// deriveTitle shortens the first user message into a conversation title.
func deriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= titleMaxRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:titleMaxRunes-1])) + "…"
}
