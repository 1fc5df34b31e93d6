package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/api/middleware"
	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
	"github.com/styxchat/chat-service/internal/infrastructure/tts"
)

var (
	alice = domain.Principal{UserID: "u-alice", Username: "alice", Role: domain.RoleUser}
	kid   = domain.Principal{UserID: "u-kid", Username: "tim", Role: domain.RoleKid}
	admin = domain.Principal{UserID: "u-admin", Username: "admin", Role: domain.RoleAdmin}
)

// newContext builds an echo context with the validator wired, an optional
// JSON body and the given principal.
func newContext(method, target, body string, p *domain.Principal) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if p != nil {
		c.Set(middleware.PrincipalKey, *p)
	}
	return c, rec
}

type stubAuthService struct {
	loginFn func(ctx context.Context, username, password string) (string, *domain.User, error)
}

func (s *stubAuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	return s.loginFn(ctx, username, password)
}

func (s *stubAuthService) ParseToken(string) (*domain.Claims, error) {
	return nil, domain.ErrAuthentication
}

type stubUserService struct {
	listFn    func(ctx context.Context, actor domain.Principal) ([]*domain.User, error)
	getFn     func(ctx context.Context, id string) (*domain.User, error)
	createFn  func(ctx context.Context, actor domain.Principal, in ports.CreateUserInput) (*domain.User, error)
	disableFn func(ctx context.Context, actor domain.Principal, id string) error
}

func (s *stubUserService) List(ctx context.Context, actor domain.Principal) ([]*domain.User, error) {
	return s.listFn(ctx, actor)
}

func (s *stubUserService) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.getFn(ctx, id)
}

func (s *stubUserService) Create(ctx context.Context, actor domain.Principal, in ports.CreateUserInput) (*domain.User, error) {
	return s.createFn(ctx, actor, in)
}

func (s *stubUserService) Disable(ctx context.Context, actor domain.Principal, id string) error {
	return s.disableFn(ctx, actor, id)
}

// stubRoomService embeds the interface so tests only set what they call.
type stubRoomService struct {
	ports.RoomService
	createFn func(ctx context.Context, actor domain.Principal, in ports.CreateRoomInput) (*domain.Room, error)
	getFn    func(ctx context.Context, actor domain.Principal, id string) (*domain.Room, error)
	updateFn func(ctx context.Context, actor domain.Principal, id string, in ports.UpdateRoomInput) (*domain.Room, error)
	deleteFn func(ctx context.Context, actor domain.Principal, id string) error
	accessFn func(ctx context.Context, actor domain.Principal, id string) (ports.AccessResult, error)
}

func (s *stubRoomService) Create(ctx context.Context, actor domain.Principal, in ports.CreateRoomInput) (*domain.Room, error) {
	return s.createFn(ctx, actor, in)
}

func (s *stubRoomService) Get(ctx context.Context, actor domain.Principal, id string) (*domain.Room, error) {
	return s.getFn(ctx, actor, id)
}

func (s *stubRoomService) Update(ctx context.Context, actor domain.Principal, id string, in ports.UpdateRoomInput) (*domain.Room, error) {
	return s.updateFn(ctx, actor, id, in)
}

func (s *stubRoomService) Delete(ctx context.Context, actor domain.Principal, id string) error {
	return s.deleteFn(ctx, actor, id)
}

func (s *stubRoomService) CheckAccess(ctx context.Context, actor domain.Principal, id string) (ports.AccessResult, error) {
	return s.accessFn(ctx, actor, id)
}

type stubChatService struct {
	historyFn func(ctx context.Context, actor domain.Principal, roomID string, limit int) ([]domain.Message, error)
	clearFn   func(ctx context.Context, actor domain.Principal, roomID string) error
}

func (s *stubChatService) Submit(ports.PipelineEvent) {}

func (s *stubChatService) History(ctx context.Context, actor domain.Principal, roomID string, limit int) ([]domain.Message, error) {
	return s.historyFn(ctx, actor, roomID, limit)
}

func (s *stubChatService) ClearHistory(ctx context.Context, actor domain.Principal, roomID string) error {
	return s.clearFn(ctx, actor, roomID)
}

type stubCompleter struct {
	models []string
	err    error
}

func (s *stubCompleter) Complete(context.Context, ports.CompletionRequest) (string, error) {
	return "", s.err
}

func (s *stubCompleter) Models(context.Context) ([]string, error) { return s.models, s.err }

type stubSpeech struct {
	gotText, gotVoice string
	audio             []byte
	err               error
}

func (s *stubSpeech) Enabled() bool { return s.err == nil }

func (s *stubSpeech) Synthesize(_ context.Context, text, voiceID string) ([]byte, error) {
	s.gotText, s.gotVoice = text, voiceID
	return s.audio, s.err
}

type stubVoices struct {
	voices []tts.Voice
	err    error
}

func (s *stubVoices) Voices(context.Context) ([]tts.Voice, error) { return s.voices, s.err }
