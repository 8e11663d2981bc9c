package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelforge-server/models"
)

const scriptSystemPrompt = `You are a scriptwriter for short-form vertical videos ("reels"). Given a topic and research notes, write a voiceover script split into scenes.

You MUST respond with ONLY valid JSON — no preamble, no markdown, no explanation:
{
  "fullText": "the complete narration",
  "scenes": [
    {"id": "scene-1", "text": "narration for this scene (1-3 sentences)", "visualDescription": "what should be on screen"}
  ]
}

Keep narration at a natural speaking pace (~150 words per minute) so the total fits the requested duration. 4-8 scenes.`

const promptSystemPrompt = `You write image generation prompts for video scenes. Respond with ONLY valid JSON:
[{"sceneId": "...", "prompt": "detailed cinematic image prompt, no text in image"}]`

const hashtagSystemPrompt = `You suggest hashtags for short-form videos. Respond with ONLY a valid JSON array of strings, e.g. ["#history", "#coffee"]. 5-10 tags, no explanation.`

// ChatBackend 是一个 OpenAI 兼容的 chat completion 后端（groq / openai 走同一协议，
// 只是 BaseURL 和模型不同）。脚本、提示词、话题标签、调研综述都走它。
type ChatBackend struct {
	Name       string
	BaseURL    string
	Model      string
	httpClient *http.Client
}

func NewChatBackend(name, baseURL, model string) *ChatBackend {
	return &ChatBackend{
		Name:       name,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *ChatBackend) chat(ctx context.Context, apiKey, system, user string, temperature float64) (string, error) {
	reqBody := chatRequest{
		Model: b.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   4096,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.BaseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Backend: b.Name, Err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Backend: b.Name, Err: err}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", &ProviderError{Backend: b.Name, Err: fmt.Errorf("parse response: %w", err)}
	}
	if parsed.Error != nil {
		return "", &ProviderError{Backend: b.Name, Err: fmt.Errorf("%s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", &ProviderError{Backend: b.Name, Err: fmt.Errorf("no choices in response")}
	}
	return parsed.Choices[0].Message.Content, nil
}

// GenerateScript 生成结构化脚本。JSON 不合法时返回 *GenerationFormatError，
// 不把半截数据往外漏。
func (b *ChatBackend) GenerateScript(ctx context.Context, apiKey string, req ScriptRequest) (*models.Script, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "TOPIC: %s\n\n", req.Topic)
	if req.ResearchSummary != "" {
		fmt.Fprintf(&user, "RESEARCH NOTES:\n%s\n\n", req.ResearchSummary)
	}
	if req.TargetDuration > 0 {
		fmt.Fprintf(&user, "TARGET DURATION: about %d seconds of narration.\n", req.TargetDuration)
	}
	if req.Tone != "" {
		fmt.Fprintf(&user, "TONE: %s\n", req.Tone)
	}
	user.WriteString("\nRespond ONLY with valid JSON.")

	content, err := b.chat(ctx, apiKey, scriptSystemPrompt, user.String(), 0.7)
	if err != nil {
		return nil, err
	}
	content = cleanJSON(content)

	var raw struct {
		FullText string `json:"fullText"`
		Scenes   []struct {
			ID                string `json:"id"`
			Text              string `json:"text"`
			VisualDescription string `json:"visualDescription"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, &GenerationFormatError{Backend: b.Name, Raw: content, Err: err}
	}
	if len(raw.Scenes) == 0 {
		return nil, &GenerationFormatError{Backend: b.Name, Raw: content, Err: fmt.Errorf("script has no scenes")}
	}

	script := &models.Script{FullText: raw.FullText}
	var texts []string
	for i, s := range raw.Scenes {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("scene-%d", i+1)
		}
		script.Scenes = append(script.Scenes, models.ScriptScene{
			ID:                id,
			Text:              strings.TrimSpace(s.Text),
			VisualDescription: strings.TrimSpace(s.VisualDescription),
		})
		texts = append(texts, strings.TrimSpace(s.Text))
	}
	if script.FullText == "" {
		script.FullText = strings.Join(texts, " ")
	}
	return script, nil
}

func (b *ChatBackend) GenerateImagePrompts(ctx context.Context, apiKey string, scenes []models.ScriptScene, styleGuide string) (map[string]string, error) {
	var user strings.Builder
	user.WriteString("SCENES:\n")
	for _, s := range scenes {
		fmt.Fprintf(&user, "- sceneId %q: %s (visual: %s)\n", s.ID, s.Text, s.VisualDescription)
	}
	if styleGuide != "" {
		fmt.Fprintf(&user, "\nSTYLE GUIDE: %s\n", styleGuide)
	}

	content, err := b.chat(ctx, apiKey, promptSystemPrompt, user.String(), 0.6)
	if err != nil {
		return nil, err
	}
	content = cleanJSON(content)

	var raw []struct {
		SceneID string `json:"sceneId"`
		Prompt  string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, &GenerationFormatError{Backend: b.Name, Raw: content, Err: err}
	}

	out := make(map[string]string, len(raw))
	for _, p := range raw {
		if p.SceneID != "" && p.Prompt != "" {
			out[p.SceneID] = p.Prompt
		}
	}
	return out, nil
}

func (b *ChatBackend) GenerateHashtags(ctx context.Context, apiKey string, topic, scriptExcerpt string) ([]string, error) {
	user := fmt.Sprintf("TOPIC: %s\n\nSCRIPT EXCERPT:\n%s", topic, scriptExcerpt)
	content, err := b.chat(ctx, apiKey, hashtagSystemPrompt, user, 0.5)
	if err != nil {
		return nil, err
	}
	content = cleanJSON(content)

	var tags []string
	if err := json.Unmarshal([]byte(content), &tags); err != nil {
		return nil, &GenerationFormatError{Backend: b.Name, Raw: content, Err: err}
	}
	return tags, nil
}

// SynthesizeSummary 把各路调研素材汇总成一段可用的摘要
func (b *ChatBackend) SynthesizeSummary(ctx context.Context, apiKey, topic string, findings []string) (string, error) {
	system := "You summarize research material into concise, factual notes for a video scriptwriter. Plain text, no markdown."
	user := fmt.Sprintf("TOPIC: %s\n\nMATERIAL:\n%s", topic, strings.Join(findings, "\n---\n"))
	return b.chat(ctx, apiKey, system, user, 0.3)
}

// cleanJSON 剥掉模型偶尔包上的 markdown 代码栅栏
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
