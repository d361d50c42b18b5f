// Package overlaygen asks Gemini for highlight text overlays timed to the
// timeline's audio track.
package overlaygen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Dombom123/viral-launch-video/internal/export"
	"github.com/Dombom123/viral-launch-video/internal/metrics"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

const (
	DefaultModel   = "gemini-2.5-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	maxResponseBytes = 4 << 20
	maxErrorBytes    = 4096
)

// ErrNoAPIKey is returned when generation is attempted without a key.
var ErrNoAPIKey = errors.New("gemini api key is not configured")

// ServiceError is a non-2xx answer from the generation service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("overlay generation failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors and rate limiting.
func (e *ServiceError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// AudioSource renders the timeline audio the model listens to.
type AudioSource interface {
	Export(ctx context.Context, engine export.Engine, format string, opts export.Options) (*export.Result, error)
}

// Request carries the optional correction prompt.
type Request struct {
	UserPrompt      string
	CurrentOverlays []*timeline.OverlayItem
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Generator calls the Gemini generateContent REST endpoint.
type Generator struct {
	cfg        Config
	audio      AudioSource
	httpClient *http.Client
	logger     *slog.Logger
}

func NewGenerator(cfg Config, audio AudioSource, logger *slog.Logger) *Generator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Generator{
		cfg:        cfg,
		audio:      audio,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

const defaultPrompt = `Listen to the audio and generate highlight text chunks that should appear in important moments. I will feature these chunks on the video, they're not captions but just emphasis. The chunks should be short and to the point.

Highlight should together with the spoken phrase to ensure it is visible and in sync.
Use 'top', 'bottom', or 'center' for position based on what makes sense. Ensure the output follows the JSON schema.`

const correctionPrompt = `
Listen to the audio.
Here is the current list of text overlays in JSON format:
%s

The user wants to make the following correction/update:
%q

Please generate the UPDATED full list of text overlays.
Ensure the output follows the JSON schema.
`

// generatedOverlay is one entry of the model's answer and of the overlay
// list embedded in correction prompts.
type generatedOverlay struct {
	Type            string  `json:"type,omitempty"`
	StartTime       float64 `json:"startTime"`
	Duration        float64 `json:"duration"`
	Text            string  `json:"text"`
	Position        string  `json:"position"`
	Size            string  `json:"size"`
	Color           string  `json:"color"`
	BackgroundColor string  `json:"backgroundColor,omitempty"`
}

// BuildPrompt picks the default prompt, or the correction prompt when both
// a user prompt and a non-empty overlay list are given.
func BuildPrompt(req Request) (string, error) {
	if req.UserPrompt == "" || len(req.CurrentOverlays) == 0 {
		return defaultPrompt, nil
	}

	simplified := make([]generatedOverlay, 0, len(req.CurrentOverlays))
	for _, o := range req.CurrentOverlays {
		g := generatedOverlay{StartTime: o.StartTime, Duration: o.Duration}
		if len(o.Layout) > 0 {
			if txt, ok := o.Layout[0].(*timeline.TextElement); ok {
				g.Type = string(timeline.ElementText)
				g.Text = txt.Text
				g.Position = string(txt.Position)
				g.Size = string(txt.Size)
				g.Color = txt.Color
				g.BackgroundColor = txt.BackgroundColor
			}
		}
		simplified = append(simplified, g)
	}
	data, err := json.Marshal(simplified)
	if err != nil {
		return "", fmt.Errorf("marshal current overlays: %w", err)
	}
	return fmt.Sprintf(correctionPrompt, data, req.UserPrompt), nil
}

// Generate exports the timeline audio as WAV, sends it with the prompt and
// converts the answer into overlay items. Entries that fail validation are
// dropped.
func (g *Generator) Generate(ctx context.Context, engine export.Engine, req Request) (items []*timeline.OverlayItem, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.OverlayGenerations.WithLabelValues(result).Inc()
	}()

	if g.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	audio, err := g.audio.Export(ctx, engine, "wav", export.Options{})
	if err != nil {
		return nil, fmt.Errorf("export audio: %w", err)
	}

	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	text, err := g.generateContent(ctx, prompt, audio.MIMEType, audio.Data)
	if err != nil {
		return nil, err
	}

	items, dropped, err := ParseOverlays([]byte(text))
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		g.logger.Warn("dropped invalid generated overlays", "dropped", dropped)
	}
	g.logger.Info("overlays generated", "count", len(items), "audio_bytes", len(audio.Data))
	return items, nil
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"responseMimeType"`
	ResponseSchema   any    `json:"responseSchema"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// responseSchema constrains the model to {overlays: [...]}.
func responseSchema() map[string]any {
	str := map[string]any{"type": "STRING"}
	num := map[string]any{"type": "NUMBER"}
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"overlays": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"startTime": num,
						"duration":  num,
						"text":      str,
						"position":  map[string]any{"type": "STRING", "enum": []string{"top", "bottom", "center"}},
						"size":      map[string]any{"type": "STRING", "enum": []string{"small", "medium", "large"}},
						"color": map[string]any{
							"type":        "STRING",
							"description": "The color of the text, in hex format (e.g. #ffffff).",
						},
						"backgroundColor": str,
					},
					"required": []string{"startTime", "duration", "text", "position", "size", "color"},
				},
			},
		},
		"required": []string{"overlays"},
	}
}

func (g *Generator) generateContent(ctx context.Context, prompt, mimeType string, audio []byte) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: prompt},
				{InlineData: &inlineData{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(audio)}},
			},
		}},
		GenerationConfig: generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   responseSchema(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	g.logger.Info("calling gemini", "model", g.cfg.Model, "body_bytes", len(body))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return "", &ServiceError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var text strings.Builder
	for _, c := range out.Candidates {
		for _, p := range c.Content.Parts {
			text.WriteString(p.Text)
		}
		if text.Len() > 0 {
			break
		}
	}
	return text.String(), nil
}

// ParseOverlays converts the model's JSON answer into overlay items, one
// text element each. A missing or non-array "overlays" yields no items.
// It returns the number of entries dropped as invalid.
func ParseOverlays(data []byte) ([]*timeline.OverlayItem, int, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	var raw struct {
		Overlays json.RawMessage `json:"overlays"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("parse generated overlays: %w", err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw.Overlays, &entries); err != nil {
		return []*timeline.OverlayItem{}, 0, nil
	}

	items := make([]*timeline.OverlayItem, 0, len(entries))
	dropped := 0
	for _, e := range entries {
		var g generatedOverlay
		if err := json.Unmarshal(e, &g); err != nil {
			dropped++
			continue
		}
		if g.BackgroundColor == "" {
			g.BackgroundColor = timeline.Transparent
		}
		item := &timeline.OverlayItem{
			StartTime: g.StartTime,
			Duration:  g.Duration,
			Layout: []timeline.Element{&timeline.TextElement{
				Text:            g.Text,
				Position:        timeline.Position(g.Position),
				Size:            timeline.Size(g.Size),
				Color:           g.Color,
				BackgroundColor: g.BackgroundColor,
			}},
		}
		if err := timeline.Validate(&timeline.Timeline{Items: []timeline.Item{item}}); err != nil {
			dropped++
			continue
		}
		items = append(items, item)
	}
	return items, dropped, nil
}
