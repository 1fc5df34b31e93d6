package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/api/metrics"
	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
	"github.com/styxchat/chat-service/internal/core/trigger"
)

// PipelineConfig bounds message bodies and history.
type PipelineConfig struct {
	MaxMessageLength int
	HistorySize      int
}

// AssistantRunner starts asynchronous assistant replies.
type AssistantRunner interface {
	Name() string
	Request(room *domain.Room, trigger *domain.Message, deliver func(ports.PipelineEvent))
}

// Pipeline is the Message Pipeline. Process runs on the dispatcher worker
// that owns the event's room, so one room is handled strictly in order.
type Pipeline struct {
	cfg       PipelineConfig
	rooms     ports.RoomRepository
	store     ports.MessageStore
	dedup     ports.Deduplicator
	notifier  ports.Notifier
	queue     ports.Enqueuer
	assistant AssistantRunner
	detector  *trigger.Detector
	helpText  string
	now       func() time.Time
	log       zerolog.Logger
}

// PipelineDeps groups the collaborators of NewPipeline.
type PipelineDeps struct {
	Rooms     ports.RoomRepository
	Store     ports.MessageStore
	Dedup     ports.Deduplicator
	Notifier  ports.Notifier
	Queue     ports.Enqueuer
	Assistant AssistantRunner
	Detector  *trigger.Detector
	HelpText  string
}

func NewPipeline(cfg PipelineConfig, deps PipelineDeps, log zerolog.Logger) *Pipeline {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 2000
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Pipeline{
		cfg:       cfg,
		rooms:     deps.Rooms,
		store:     deps.Store,
		dedup:     deps.Dedup,
		notifier:  deps.Notifier,
		queue:     deps.Queue,
		assistant: deps.Assistant,
		detector:  deps.Detector,
		helpText:  deps.HelpText,
		now:       time.Now,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Submit hands an event to the room-ordered queue.
func (p *Pipeline) Submit(ev ports.PipelineEvent) {
	p.queue.Enqueue(ev)
}

// Process handles one pipeline event.
func (p *Pipeline) Process(ctx context.Context, ev ports.PipelineEvent) error {
	start := p.now()
	var err error
	switch ev.Kind {
	case ports.InboundMessage:
		err = p.processInbound(ctx, ev)
		metrics.PipelineProcessingDuration.WithLabelValues("inbound").Observe(time.Since(start).Seconds())
	case ports.AssistantReply:
		err = p.processReply(ctx, ev)
		metrics.PipelineProcessingDuration.WithLabelValues("assistant_reply").Observe(time.Since(start).Seconds())
	default:
		err = fmt.Errorf("unknown pipeline event kind %d", ev.Kind)
	}
	return err
}

func (p *Pipeline) processInbound(ctx context.Context, ev ports.PipelineEvent) error {
	// 1. Validate.
	body := strings.TrimSpace(ev.Body)
	if body == "" {
		return p.reject(ev, domain.Validationf("message body is empty"))
	}
	if utf8.RuneCountInString(body) > p.cfg.MaxMessageLength {
		return p.reject(ev, domain.Validationf("message exceeds %d characters", p.cfg.MaxMessageLength))
	}

	// 2. Authorize against the current registry state, not the join-time view.
	if ev.RoomID != ev.CurrentRoomID {
		return p.reject(ev, fmt.Errorf("%w: not a member of room %q", domain.ErrAccessDenied, ev.RoomID))
	}
	room, err := p.rooms.Get(ctx, ev.RoomID)
	if err != nil {
		return p.reject(ev, p.storeErr(err))
	}
	if !domain.Can(ev.Sender.Role, domain.ActionPostMessage, domain.Resource{Room: room, UserID: ev.Sender.UserID}) {
		return p.reject(ev, domain.ErrAccessDenied)
	}

	// 3. Drop resends of an already accepted client message.
	if ev.ClientMsgID != "" && p.dedup != nil {
		dup, err := p.dedup.Seen(ctx, room.ID, ev.Sender.UserID, ev.ClientMsgID)
		if err != nil {
			p.log.Warn().Err(err).Str("room_id", room.ID).Msg("dedup check failed, processing anyway")
		} else if dup {
			p.log.Debug().Str("room_id", room.ID).Str("client_msg_id", ev.ClientMsgID).Msg("duplicate message skipped")
			return nil
		}
	}

	// 4. Commands are answered privately and never persisted.
	match := p.detector.Detect(body)
	if match.Kind == trigger.Command {
		p.sendHelp(ev, room)
		return nil
	}

	// 5. Sequence, persist and broadcast in one store operation.
	msg, err := p.store.Append(ctx, &domain.Message{
		ID:         uuid.NewString(),
		RoomID:     room.ID,
		SenderID:   ev.Sender.UserID,
		SenderName: ev.Sender.Username,
		Body:       body,
		Kind:       domain.KindUser,
		CreatedAt:  p.now().UTC(),
	}, p.cfg.HistorySize)
	if err != nil {
		if ev.ClientMsgID != "" && p.dedup != nil {
			if ferr := p.dedup.Forget(ctx, room.ID, ev.Sender.UserID, ev.ClientMsgID); ferr != nil {
				p.log.Warn().Err(ferr).Str("room_id", room.ID).Msg("dedup release failed, resend will be dropped")
			}
		}
		return p.reject(ev, p.storeErr(err))
	}
	metrics.MessagesPersistedTotal.WithLabelValues(string(domain.KindUser)).Inc()

	// 6. Trigger scan.
	if match.InvokesAssistant() && room.AI.Enabled && p.assistant != nil {
		p.log.Debug().
			Str("room_id", room.ID).
			Str("message_id", msg.ID).
			Str("trigger", match.Kind.String()).
			Msg("assistant triggered")
		p.assistant.Request(room, msg, p.Submit)
	}
	return nil
}

// processReply persists an assistant reply, discarding it when its room is gone.
func (p *Pipeline) processReply(ctx context.Context, ev ports.PipelineEvent) error {
	if _, err := p.rooms.Get(ctx, ev.RoomID); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			p.log.Info().Str("room_id", ev.RoomID).Str("reply_to", ev.ReplyTo).Msg("room deleted, assistant reply discarded")
			return nil
		}
		return fmt.Errorf("assistant reply: %w", err)
	}

	_, err := p.store.Append(ctx, &domain.Message{
		ID:         uuid.NewString(),
		RoomID:     ev.RoomID,
		SenderID:   domain.AssistantID,
		SenderName: p.assistantName(),
		Body:       ev.Body,
		Kind:       domain.KindAssistant,
		ReplyTo:    ev.ReplyTo,
		CreatedAt:  p.now().UTC(),
	}, p.cfg.HistorySize)
	if errors.Is(err, domain.ErrRoomNotFound) {
		p.log.Info().Str("room_id", ev.RoomID).Msg("room deleted, assistant reply discarded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("assistant reply: %w", err)
	}
	metrics.MessagesPersistedTotal.WithLabelValues(string(domain.KindAssistant)).Inc()
	return nil
}

// History returns the trailing messages of a room the actor can access.
func (p *Pipeline) History(ctx context.Context, actor domain.Principal, roomID string, limit int) ([]domain.Message, error) {
	room, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !domain.Can(actor.Role, domain.ActionViewRoom, domain.Resource{Room: room, UserID: actor.UserID}) {
		return nil, domain.ErrAccessDenied
	}
	if limit <= 0 || limit > p.cfg.HistorySize {
		limit = p.cfg.HistorySize
	}
	msgs, err := p.store.Recent(ctx, roomID, limit)
	if err != nil {
		return nil, p.storeErr(err)
	}
	return msgs, nil
}

// ClearHistory wipes the persisted window of a room. Admin only.
func (p *Pipeline) ClearHistory(ctx context.Context, actor domain.Principal, roomID string) error {
	room, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !domain.Can(actor.Role, domain.ActionClearHistory, domain.Resource{Room: room, UserID: actor.UserID}) {
		return domain.ErrPermissionDenied
	}
	if err := p.store.Clear(ctx, roomID); err != nil {
		return p.storeErr(err)
	}
	p.log.Info().Str("room_id", roomID).Str("by", actor.UserID).Msg("room history cleared")
	return nil
}

func (p *Pipeline) sendHelp(ev ports.PipelineEvent, room *domain.Room) {
	msg := domain.Message{
		ID:         uuid.NewString(),
		RoomID:     room.ID,
		SenderID:   domain.AssistantID,
		SenderName: p.assistantName(),
		Body:       p.helpText,
		Kind:       domain.KindAssistant,
		CreatedAt:  p.now().UTC(),
	}
	p.notifier.SendToConn(ev.ConnID, ports.Event{Type: ports.EventChatMessage, RoomID: room.ID, Data: msg})
}

// reject reports err to the sending connection. Rejections are resolved here
// and never reach the broadcast stage.
func (p *Pipeline) reject(ev ports.PipelineEvent, err error) error {
	code := domain.Code(err)
	metrics.PipelineRejectionsTotal.WithLabelValues(code).Inc()

	description := err.Error()
	if code == domain.CodeInternal {
		description = "failed to process message"
	}
	p.notifier.SendToConn(ev.ConnID, ports.Event{
		Type:   ports.EventError,
		RoomID: ev.RoomID,
		Data:   ports.ErrorPayload{Code: code, Description: description},
	})

	if code == domain.CodeInternal || code == domain.CodeUpstreamUnavailable {
		return fmt.Errorf("process message: %w", err)
	}
	return nil
}

// storeErr maps store outages to UpstreamUnavailable so callers see a
// classified error instead of a raw driver error.
func (p *Pipeline) storeErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: message store: %v", domain.ErrUpstreamUnavailable, err)
}

func (p *Pipeline) assistantName() string {
	if p.assistant == nil {
		return "Assistant"
	}
	return p.assistant.Name()
}
