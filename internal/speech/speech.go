// Package speech transcribes recorded audio through a speech-to-text endpoint.
package speech

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
)

// Config describes the recording sent along with the audio.
type Config struct {
	URL          string
	APIKey       string
	Encoding     string
	SampleRate   int
	LanguageCode string
	Timeout      time.Duration
}

type recognitionConfig struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	LanguageCode    string `json:"languageCode"`
}

type recognizeRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Client calls the recognize endpoint.
type Client struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Client {
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Transcribe returns the top alternative of every result, one per line.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errors.New("speech client not initialised")
	}
	if len(audio) == 0 {
		return "", errors.New("audio cannot be empty")
	}

	payload := recognizeRequest{
		Config: recognitionConfig{
			Encoding:        c.cfg.Encoding,
			SampleRateHertz: c.cfg.SampleRate,
			LanguageCode:    c.cfg.LanguageCode,
		},
	}
	payload.Audio.Content = base64.StdEncoding.EncodeToString(audio)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal recognize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call speech service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read speech response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded recognizeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode speech response: %w", err)
	}

	lines := make([]string, 0, len(decoded.Results))
	for _, result := range decoded.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		lines = append(lines, result.Alternatives[0].Transcript)
	}
	return strings.Join(lines, "\n"), nil
}
