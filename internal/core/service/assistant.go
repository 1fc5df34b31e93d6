package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/styxchat/chat-service/internal/api/metrics"
	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

// FallbackReply is delivered whenever the upstream call does not produce an answer.
const FallbackReply = "Sorry, the assistant is unavailable right now. Please try again in a moment."

// AssistantConfig holds the assistant identity and completion parameters.
type AssistantConfig struct {
	Name         string
	Alias        string
	DefaultModel string
	Timeout      time.Duration
	ContextSize  int
	Temperature  float64
	MaxTokens    int
}

func (c AssistantConfig) withDefaults() AssistantConfig {
	if c.Name == "" {
		c.Name = "Styx"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ContextSize <= 0 {
		c.ContextSize = 8
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 500
	}
	return c
}

// Assistant runs one asynchronous completion task per triggering message and
// feeds the reply back into the pipeline as a new event.
type Assistant struct {
	cfg       AssistantConfig
	completer ports.Completer
	store     ports.MessageStore
	bus       ports.EventBus
	now       func() time.Time
	log       zerolog.Logger

	inflight singleflight.Group
	wg       sync.WaitGroup
	base     context.Context
	cancel   context.CancelFunc
}

func NewAssistant(cfg AssistantConfig, completer ports.Completer, store ports.MessageStore, bus ports.EventBus, log zerolog.Logger) *Assistant {
	base, cancel := context.WithCancel(context.Background())
	return &Assistant{
		cfg:       cfg.withDefaults(),
		completer: completer,
		store:     store,
		bus:       bus,
		now:       time.Now,
		log:       log.With().Str("component", "assistant").Logger(),
		base:      base,
		cancel:    cancel,
	}
}

// Name is the display name of the synthetic participant.
func (a *Assistant) Name() string { return a.cfg.Name }

// Request starts the completion task for trigger and returns immediately.
// deliver receives exactly one reply event, the fallback included.
func (a *Assistant) Request(room *domain.Room, trigger *domain.Message, deliver func(ports.PipelineEvent)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		// duplicate requests for one message collapse into the first call
		_, _, shared := a.inflight.Do(trigger.ID, func() (any, error) {
			deliver(a.respond(room, trigger))
			return nil, nil
		})
		if shared {
			a.log.Debug().Str("message_id", trigger.ID).Msg("duplicate assistant request collapsed")
		}
	}()
}

// Shutdown cancels in-flight calls and waits for their fallback replies.
func (a *Assistant) Shutdown() {
	a.cancel()
	a.wg.Wait()
}

// Wait blocks until every started task has delivered its reply.
func (a *Assistant) Wait() { a.wg.Wait() }

func (a *Assistant) respond(room *domain.Room, trigger *domain.Message) ports.PipelineEvent {
	ctx, cancel := context.WithTimeout(a.base, a.cfg.Timeout)
	defer cancel()

	a.typing(room.ID, true)
	defer a.typing(room.ID, false)

	model := room.AI.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}

	history, err := a.store.Recent(ctx, room.ID, a.cfg.ContextSize)
	if err != nil {
		a.log.Warn().Err(err).Str("room_id", room.ID).Msg("context unavailable, using trigger only")
		history = nil
	}

	req := ports.CompletionRequest{
		Model:       model,
		Messages:    a.buildTurns(room, history, trigger),
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}

	start := a.now()
	reply, err := a.completer.Complete(ctx, req)
	metrics.AIRequestDuration.Observe(time.Since(start).Seconds())

	body := strings.TrimSpace(reply)
	switch {
	case err != nil:
		outcome := "unavailable"
		if errors.Is(err, domain.ErrUpstreamTimeout) {
			outcome = "timeout"
		}
		metrics.AIRequestsTotal.WithLabelValues(outcome).Inc()
		a.log.Warn().Err(err).Str("room_id", room.ID).Str("message_id", trigger.ID).Msg("assistant fallback")
		body = FallbackReply
	case body == "":
		metrics.AIRequestsTotal.WithLabelValues("empty").Inc()
		body = FallbackReply
	default:
		metrics.AIRequestsTotal.WithLabelValues("ok").Inc()
		a.log.Info().
			Str("room_id", room.ID).
			Str("message_id", trigger.ID).
			Str("model", model).
			Dur("took", time.Since(start)).
			Msg("assistant replied")
	}

	return ports.PipelineEvent{
		Kind:    ports.AssistantReply,
		RoomID:  room.ID,
		Body:    body,
		ReplyTo: trigger.ID,
		Model:   model,
	}
}

// buildTurns renders the system prompt plus trailing context. Human lines are
// prefixed with their author so the model can tell speakers apart.
func (a *Assistant) buildTurns(room *domain.Room, history []domain.Message, trigger *domain.Message) []ports.ChatTurn {
	turns := make([]ports.ChatTurn, 0, len(history)+2)
	turns = append(turns, ports.ChatTurn{Role: "system", Content: a.systemPrompt(room.AI.SystemPrompt)})

	if len(history) > a.cfg.ContextSize {
		history = history[len(history)-a.cfg.ContextSize:]
	}

	seenTrigger := false
	for _, m := range history {
		switch m.Kind {
		case domain.KindAssistant:
			turns = append(turns, ports.ChatTurn{Role: "assistant", Content: m.Body})
		case domain.KindUser:
			turns = append(turns, ports.ChatTurn{Role: "user", Content: fmt.Sprintf("%s: %s", m.SenderName, m.Body)})
		}
		if m.ID == trigger.ID {
			seenTrigger = true
		}
	}
	if !seenTrigger {
		turns = append(turns, ports.ChatTurn{Role: "user", Content: fmt.Sprintf("%s: %s", trigger.SenderName, trigger.Body)})
	}
	return turns
}

func (a *Assistant) systemPrompt(roomPrompt string) string {
	now := a.now().Format("2006-01-02 15:04:05")
	name := a.cfg.Name

	if strings.TrimSpace(roomPrompt) != "" {
		return fmt.Sprintf(`You are %[1]s, an AI assistant participating in this chat room.

Room-specific instructions:
%[2]s

Basic guidelines:
- Your name is %[1]s - use this if you need to refer to yourself
- Keep responses concise but informative unless the room prompt specifies otherwise
- You can see the chat history and respond to the current conversation context
- Address users by name when appropriate
- Current time: %[3]s

Follow the room-specific instructions above while maintaining natural conversation.`, name, strings.TrimSpace(roomPrompt), now)
	}

	return fmt.Sprintf(`You are %[1]s, a helpful AI assistant participating in a group chat.

Guidelines:
- Be friendly, engaging, and conversational
- Keep responses concise but informative (2-3 sentences max unless asked for details)
- You can see the chat history and respond to the current conversation context
- Address users by name when appropriate
- Your name is %[1]s - use this if you need to refer to yourself
- Be helpful but not overly formal

Current time: %[2]s

Respond naturally as if you're another participant in the chat.`, name, now)
}

func (a *Assistant) typing(roomID string, on bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev := ports.Event{
		Type:   ports.EventAITyping,
		RoomID: roomID,
		Data:   map[string]any{"room_id": roomID, "typing": on},
	}
	if err := a.bus.PublishRoom(ctx, ev); err != nil {
		a.log.Debug().Err(err).Str("room_id", roomID).Msg("failed to publish ai typing")
	}
}
