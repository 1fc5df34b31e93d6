// Package tts converts chat text to speech through the ElevenLabs HTTP API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// MaxTextLength is the longest input accepted, in characters.
const MaxTextLength = 5000

const outputFormat = "mp3_44100_128"

type Config struct {
	BaseURL string
	APIKey  string
	VoiceID string
	Model   string
	Timeout time.Duration
}

// Voice is one entry of the voice catalogue.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client implements ports.SpeechSynthesizer. Without an API key it stays
// disabled and every call fails with ErrUpstreamUnavailable.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	l := log.With().Str("component", "tts").Logger()
	if cfg.APIKey == "" {
		l.Warn().Msg("ElevenLabs API key not provided, text-to-speech disabled")
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: l}
}

func (c *Client) Enabled() bool { return c.cfg.APIKey != "" }

// Synthesize returns MP3 audio for text. An empty voiceID selects the
// configured default voice.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: text-to-speech is not configured", domain.ErrUpstreamUnavailable)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Validationf("text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return nil, domain.Validationf("text too long (max %d characters)", MaxTextLength)
	}
	if voiceID == "" {
		voiceID = c.cfg.VoiceID
	}

	body, err := json.Marshal(map[string]string{
		"text":     CleanText(text),
		"model_id": c.cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("encode speech request: %w", err)
	}

	path := "/v1/text-to-speech/" + voiceID + "?output_format=" + outputFormat
	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}
	c.log.Info().Str("voice_id", voiceID).Int("bytes", len(audio)).Msg("speech generated")
	return audio, nil
}

// Voices lists the voices available to the account.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: text-to-speech is not configured", domain.ErrUpstreamUnavailable)
	}
	resp, err := c.do(ctx, http.MethodGet, "/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Voices []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, classify(ctx, fmt.Errorf("decode voices: %w", err))
	}
	voices := make([]Voice, 0, len(out.Voices))
	for _, v := range out.Voices {
		voices = append(voices, Voice{ID: v.VoiceID, Name: v.Name})
	}
	return voices, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		c.log.Warn().Int("status", resp.StatusCode).Msg("speech endpoint error")
		return nil, fmt.Errorf("%w: speech endpoint returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}
	return resp, nil
}

func classify(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
}

var (
	htmlTag     = regexp.MustCompile(`<[^>]+>`)
	mention     = regexp.MustCompile(`(^|[^\w])@[a-zA-Z0-9_.-]+`)
	bold        = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italic      = regexp.MustCompile(`\*(.*?)\*`)
	inlineCode  = regexp.MustCompile("`(.*?)`")
	header      = regexp.MustCompile(`(?m)^#{1,6}\s*(.*?)$\n?`)
	paragraph   = regexp.MustCompile(`\n\s*\n`)
	whitespaces = regexp.MustCompile(`\s+`)
)

// CleanText strips markup that reads badly aloud: tags, mentions, markdown
// emphasis and headers. Paragraph breaks become sentence pauses.
func CleanText(text string) string {
	text = htmlTag.ReplaceAllString(text, "")
	text = mention.ReplaceAllString(text, "$1")
	text = bold.ReplaceAllString(text, "$1")
	text = italic.ReplaceAllString(text, "$1")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = header.ReplaceAllString(text, "$1. ")
	text = paragraph.ReplaceAllString(text, ". ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.TrimSpace(whitespaces.ReplaceAllString(text, " "))

	if text != "" && !strings.ContainsAny(text[len(text)-1:], ".!?") {
		text += "."
	}
	return text
}
