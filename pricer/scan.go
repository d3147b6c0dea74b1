package pricer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	scanModel        = "claude-haiku-4-5-20251001"
	scanMaxTokens    = 512
)

const scanSystemPrompt = "You are a retro video game condition expert helping a reseller evaluate games at pawn shops. " +
	"Your job is to identify the game and assess its physical condition from photos. " +
	"Be accurate — the user is making a buy decision. " +
	"If you cannot confidently identify the game or assess condition, ask for a specific additional photo."

const scanPromptTemplate = `Analyze this image of a video game or console.

Respond ONLY with a valid JSON object using this exact schema:
{
  "identified": true or false,
  "game_name": "exact game title or null",
  "console_key": one of [%s] or null,
  "console_display": "human-readable console name or null",
  "condition": "loose" | "cib" | "cib_incomplete" | "new_sealed" | "damaged" | "unknown",
  "condition_grade": "Excellent" | "Good" | "Fair" | "Poor" | null,
  "condition_notes": "brief description of physical condition — label wear, case cracks, yellowing, etc.",
  "confidence": "high" | "medium" | "low",
  "needs_more_photos": true or false,
  "photo_request": "specific instruction for what photo to take next, or null",
  "resale_notes": "1-2 sentences on sellability, common vs rare, demand level"
}

Condition definitions:
- loose: cartridge or disc only, no box or manual
- cib: complete in box (has original box + manual + game)
- cib_incomplete: has box but missing manual, or vice versa
- new_sealed: factory sealed
- damaged: significant physical damage affecting value
- unknown: cannot determine from this photo`

const followupPromptTemplate = `This is a follow-up photo for: %s (%s).

Previous assessment: condition=%s, you requested: "%s"

Based on this additional photo, provide a final assessment. Respond ONLY with valid JSON:
{
  "identified": true or false,
  "game_name": "%s",
  "console_key": one of [%s] or null,
  "console_display": "%s",
  "condition": "loose" | "cib" | "cib_incomplete" | "new_sealed" | "damaged" | "unknown",
  "condition_grade": "Excellent" | "Good" | "Fair" | "Poor" | null,
  "condition_notes": "updated condition description incorporating both photos",
  "confidence": "high" | "medium" | "low",
  "needs_more_photos": true or false,
  "photo_request": "specific next photo request or null",
  "resale_notes": "1-2 sentences on sellability"
}`

// ScanContext carries the previous scan result into a follow-up photo
// assessment.
type ScanContext struct {
	GameName       string `json:"game_name"`
	ConsoleDisplay string `json:"console_display"`
	Condition      string `json:"condition"`
	PhotoRequest   string `json:"photo_request"`
}

// ModelOutputError means the model replied with something other than
// the JSON assessment it was asked for. Raw carries the reply text.
type ModelOutputError struct {
	Raw string
}

func (e *ModelOutputError) Error() string {
	return "unexpected model output"
}

// Scanner identifies games and grades their condition from photos
// using the Anthropic Messages API.
type Scanner struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewScanner creates a Scanner. An empty baseURL selects the live API.
// An empty apiKey leaves the scanner unconfigured.
func NewScanner(apiKey, baseURL string, logger zerolog.Logger) *Scanner {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &Scanner{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     logger,
	}
}

func (s *Scanner) Configured() bool {
	return s.apiKey != ""
}

// Identify runs the first-photo assessment of a game image.
func (s *Scanner) Identify(ctx context.Context, image []byte, mime string) (map[string]any, error) {
	prompt := fmt.Sprintf(scanPromptTemplate, consoleOptions())
	return s.scan(ctx, image, mime, scanSystemPrompt, prompt)
}

// Followup runs a second-photo assessment, carrying forward what the
// first scan established.
func (s *Scanner) Followup(ctx context.Context, image []byte, mime string, prev ScanContext) (map[string]any, error) {
	if prev.GameName == "" {
		prev.GameName = "unknown game"
	}
	if prev.ConsoleDisplay == "" {
		prev.ConsoleDisplay = "unknown console"
	}
	if prev.Condition == "" {
		prev.Condition = "unknown"
	}
	if prev.PhotoRequest == "" {
		prev.PhotoRequest = "additional view"
	}
	prompt := fmt.Sprintf(followupPromptTemplate,
		prev.GameName, prev.ConsoleDisplay, prev.Condition, prev.PhotoRequest,
		prev.GameName, consoleOptions(), prev.ConsoleDisplay)
	return s.scan(ctx, image, mime, "", prompt)
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Source *anthropicSource `json:"source,omitempty"`
	Text   string           `json:"text,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (s *Scanner) scan(ctx context.Context, image []byte, mime, system, prompt string) (map[string]any, error) {
	if mime == "" {
		mime = "image/jpeg"
	}
	payload := anthropicRequest{
		Model:     scanModel,
		MaxTokens: scanMaxTokens,
		System:    system,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []anthropicContent{
				{Type: "image", Source: &anthropicSource{
					Type:      "base64",
					MediaType: mime,
					Data:      base64.StdEncoding.EncodeToString(image),
				}},
				{Type: "text", Text: prompt},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")
	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("status %d: %s", res.StatusCode, snippet)
	}
	var reply anthropicResponse
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return nil, err
	}
	if len(reply.Content) == 0 {
		return nil, errors.New("empty model response")
	}
	raw := stripCodeFence(strings.TrimSpace(reply.Content[0].Text))
	var result map[string]any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, &ModelOutputError{Raw: raw}
	}
	return result, nil
}

// Models often wrap JSON in a markdown code fence despite being told
// not to.
func stripCodeFence(s string) string {
	if strings.HasPrefix(s, "```") {
		parts := strings.Split(s, "```")
		if len(parts) > 1 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
	}
	return strings.TrimSpace(s)
}
