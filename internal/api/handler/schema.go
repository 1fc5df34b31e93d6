package handler

import "github.com/styxchat/chat-service/internal/core/domain"

// ErrorResponse is the error envelope rendered by the API error handler.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorResponse = ErrorResponse

type messageResponse struct {
	Message string `json:"message"`
}

type aiConfigRequest struct {
	Enabled      *bool  `json:"enabled"`
	Model        string `json:"model"         validate:"max=128"`
	SystemPrompt string `json:"system_prompt" validate:"max=4000"`
	VoiceID      string `json:"voice_id"      validate:"max=64"`
}

func (r *aiConfigRequest) toDomain() domain.AIConfig {
	cfg := domain.AIConfig{Enabled: true, Model: r.Model, SystemPrompt: r.SystemPrompt, VoiceID: r.VoiceID}
	if r.Enabled != nil {
		cfg.Enabled = *r.Enabled
	}
	return cfg
}

type createRoomRequest struct {
	Name         string           `json:"name"          validate:"required,max=64,room_name"`
	Description  string           `json:"description"   validate:"max=500"`
	Visibility   string           `json:"visibility"    validate:"omitempty,oneof=public private"`
	AllowedUsers []string         `json:"allowed_users"`
	AI           *aiConfigRequest `json:"ai"`
}

type updateRoomRequest struct {
	Description *string          `json:"description" validate:"omitempty,max=500"`
	Visibility  *string          `json:"visibility"  validate:"omitempty,oneof=public private"`
	AI          *aiConfigRequest `json:"ai"`
}

type assignUsersRequest struct {
	UserIDs []string `json:"user_ids" validate:"required"`
}

type historyResponse struct {
	RoomID   string           `json:"room_id"`
	Messages []domain.Message `json:"messages"`
}

type createUserRequest struct {
	Username    string `json:"username"     validate:"required,min=3,max=32"`
	Password    string `json:"password"     validate:"required,min=8"`
	FullName    string `json:"full_name"    validate:"max=100"`
	AvatarColor string `json:"avatar_color" validate:"omitempty,hexcolor"`
	Role        string `json:"role"         validate:"required,role"`
}

type speechRequest struct {
	Text    string `json:"text"     validate:"required,notblank"`
	VoiceID string `json:"voice_id" validate:"max=64"`
}

type modelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}
