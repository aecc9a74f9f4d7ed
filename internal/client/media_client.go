package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reelforge/api/internal/config"
)

// ImageClient calls an OpenAI-compatible image generation endpoint
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func NewImageClient(cfg *config.ProviderConfig) *ImageClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &ImageClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// GenerateImage returns PNG bytes for prompt
func (c *ImageClient) GenerateImage(ctx context.Context, prompt string, width, height int) ([]byte, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := post(ctx, c.httpClient, "image", c.baseURL+"/images/generations", c.apiKey, imageRequest{
		Model:          c.model,
		Prompt:         prompt,
		Size:           imageSize(width, height),
		N:              1,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, err
	}

	var resp imageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fatalf("failed to unmarshal image response: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fatalf("no image in response")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fatalf("failed to decode image: %w", err)
	}
	return data, nil
}

func (c *ImageClient) IsConfigured() bool {
	return c.apiKey != ""
}

// imageSize picks the closest supported generation size; the renderer scales to the target.
func imageSize(width, height int) string {
	switch {
	case height > width:
		return "1024x1536"
	case width > height:
		return "1536x1024"
	}
	return "1024x1024"
}

// SpeechClient calls an OpenAI-compatible text-to-speech endpoint
type SpeechClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func NewSpeechClient(cfg *config.ProviderConfig) *SpeechClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SpeechClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// Synthesize returns MP3 bytes for text
func (c *SpeechClient) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if voice == "" {
		voice = "alloy"
	}
	return post(ctx, c.httpClient, "speech", c.baseURL+"/audio/speech", c.apiKey, speechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
}

func (c *SpeechClient) Format() string { return "mp3" }

func (c *SpeechClient) IsConfigured() bool {
	return c.apiKey != ""
}

func post(ctx context.Context, httpClient *http.Client, provider, url, apiKey string, payload any) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
