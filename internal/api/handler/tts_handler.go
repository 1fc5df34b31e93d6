package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
	"github.com/styxchat/chat-service/internal/infrastructure/tts"
)

const audioMPEG = "audio/mpeg"

// VoiceCatalog lists the voices of the speech provider.
type VoiceCatalog interface {
	Voices(ctx context.Context) ([]tts.Voice, error)
}

type TTSHandler struct {
	speech ports.SpeechSynthesizer
	voices VoiceCatalog
	rooms  ports.RoomService
}

func NewTTSHandler(speech ports.SpeechSynthesizer, voices VoiceCatalog, rooms ports.RoomService) *TTSHandler {
	return &TTSHandler{speech: speech, voices: voices, rooms: rooms}
}

// Speak handles POST /tts.
//
// @Summary      Synthesize speech
// @Tags         tts
// @Accept       json
// @Produce      audio/mpeg
// @Security     BearerAuth
// @Param        body  body      speechRequest  true  "Text"
// @Success      200   {file}    binary
// @Failure      400   {object}  errorResponse
// @Failure      503   {object}  errorResponse
// @Failure      504   {object}  errorResponse
// @Router       /tts [post]
func (h *TTSHandler) Speak(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	var req speechRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if !domain.Can(p.Role, domain.ActionSpeak, domain.Resource{UserID: p.UserID}) {
		return domain.ErrAccessDenied
	}
	return h.synthesize(c, req.Text, req.VoiceID)
}

// SpeakRoom handles POST /tts/:room_id using the voice configured for the
// room assistant.
//
// @Summary      Synthesize speech with a room voice
// @Tags         tts
// @Accept       json
// @Produce      audio/mpeg
// @Security     BearerAuth
// @Param        room_id  path      string         true  "Room id"
// @Param        body     body      speechRequest  true  "Text"
// @Success      200      {file}    binary
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Failure      503      {object}  errorResponse
// @Router       /tts/{room_id} [post]
func (h *TTSHandler) SpeakRoom(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	var req speechRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	room, err := h.rooms.Get(c.Request().Context(), p, c.Param("room_id"))
	if err != nil {
		return err
	}
	if !domain.Can(p.Role, domain.ActionSpeak, domain.Resource{Room: room, UserID: p.UserID}) {
		return domain.ErrAccessDenied
	}
	return h.synthesize(c, req.Text, room.AI.VoiceID)
}

func (h *TTSHandler) synthesize(c echo.Context, text, voiceID string) error {
	audio, err := h.speech.Synthesize(c.Request().Context(), text, voiceID)
	if err != nil {
		return err
	}
	c.Response().Header().Set("Content-Disposition", `inline; filename="speech.mp3"`)
	return c.Blob(http.StatusOK, audioMPEG, audio)
}

// Voices handles GET /tts/voices.
//
// @Summary      Available voices
// @Tags         tts
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   tts.Voice
// @Failure      503  {object}  errorResponse
// @Router       /tts/voices [get]
func (h *TTSHandler) Voices(c echo.Context) error {
	voices, err := h.voices.Voices(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, voices)
}
