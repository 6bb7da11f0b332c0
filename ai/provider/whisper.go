package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const openAITranscriptionURL = "https://api.openai.com/v1/audio/transcriptions"

// Whisper adapts OpenAI's Whisper transcription endpoint to
// ports.TranscriptionPort, grounded on agents/provider/openai.go's
// client shape. It is the only TranscriptionPort implementation in this
// module; there is no primary/secondary provider fallback around it.
type Whisper struct {
	apiKey     string
	httpClient *http.Client
}

func NewWhisper(apiKey string) *Whisper {
	return &Whisper{apiKey: apiKey, httpClient: &http.Client{Timeout: 2 * time.Minute}}
}

func (w *Whisper) Name() string    { return "openai-whisper" }
func (w *Whisper) Available() bool { return w.apiKey != "" }

func (w *Whisper) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if !w.Available() {
		return "", fmt.Errorf("whisper: no API key configured")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "entry"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("whisper: build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("whisper: write audio bytes: %w", err)
	}
	if err := mw.WriteField("model", "whisper-1"); err != nil {
		return "", fmt.Errorf("whisper: write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAITranscriptionURL, &buf)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp.StatusCode, respBody)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("whisper: unmarshal response: %w", err)
	}
	return out.Text, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".webm"
	}
}
