package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// GeminiClient calls the generateContent endpoint of the Generative Language API.
type GeminiClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func NewGeminiClient(baseURL, model, apiKey string, timeout time.Duration) *GeminiClient {
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *GeminiClient) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
}

// Reply sends text as a single-part content and returns the first candidate's
// first part, or "No response" when there is none.
func (g *GeminiClient) Reply(ctx context.Context, text string) (string, error) {
	if g.apiKey == "" {
		return "", ErrClientNotInitialised
	}

	payload := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: text}}}}}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call gemini: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return noResponse, nil
	}
	reply := decoded.Candidates[0].Content.Parts[0].Text
	if reply == "" {
		return noResponse, nil
	}
	return reply, nil
}
