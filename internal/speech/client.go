// Package speech wraps the transcription and relevance-classification
// collaborators behind one HTTP client.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrUnparsableVerdict is returned when the classifier's response does not
// clearly start with Relevant or Irrelevant. The caller surfaces it as an
// error instead of silently defaulting either way.
var ErrUnparsableVerdict = errors.New("classifier response has no clear relevance verdict")

// Verdict is the parsed relevance judgment for a question.
type Verdict struct {
	IsRelevant bool
	Reason     string
}

// Client calls the speech service (Whisper-style transcription plus a chat
// model for relevance classification).
type Client struct {
	BaseURL   string
	APIKey    string
	ChatModel string
	HTTP      *http.Client
	Skip      bool
}

// New creates a client. With skip set, calls return canned results so the
// capture workflow can run without the service.
func New(baseURL, apiKey, chatModel string, skip bool) *Client {
	if chatModel == "" {
		chatModel = "gpt-4-turbo-preview"
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		ChatModel: chatModel,
		Skip:      skip,
		HTTP:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Transcribe uploads WAV audio and returns the transcript text.
func (c *Client) Transcribe(ctx context.Context, wav []byte, filename string) (string, error) {
	if c.Skip {
		return "What is the time complexity of quicksort?", nil
	}
	if len(wav) == 0 {
		return "", errors.New("empty audio")
	}
	if filename == "" {
		filename = "question.wav"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("model", "whisper-1")
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("speech: create form file failed: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(wav)); err != nil {
		return "", fmt.Errorf("speech: write audio failed: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("speech: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription failed (%d): %s", resp.StatusCode, string(body))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("speech: decode transcript failed: %w", err)
	}
	return out.Text, nil
}

const classifySystemPrompt = "You are analyzing a student's question for relevance to a specific class topic. " +
	"You must determine whether the question is relevant to the class topic or not. " +
	"Answer either 'Relevant' or 'Irrelevant'. Then provide a brief explanation."

// Classify asks the chat model whether the question is relevant to the
// topic and parses the strict Relevant/Irrelevant verdict.
func (c *Client) Classify(ctx context.Context, question, topic string) (Verdict, error) {
	if c.Skip {
		return Verdict{IsRelevant: true, Reason: "mock verdict"}, nil
	}

	userPrompt := fmt.Sprintf(
		"The class topic is: %s\nQuestion: %s\n\n"+
			"Is this question relevant or irrelevant to the class topic? "+
			"Respond strictly with one of the words 'Relevant' or 'Irrelevant' followed by a one-sentence justification.",
		topic, question,
	)

	payload := map[string]any{
		"model":       c.ChatModel,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "system", "content": classifySystemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("speech: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return Verdict{}, fmt.Errorf("classification failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Verdict{}, fmt.Errorf("speech: decode response failed: %w", err)
	}
	if len(out.Choices) == 0 {
		return Verdict{}, errors.New("classification returned no choices")
	}
	return ParseVerdict(out.Choices[0].Message.Content)
}

// ParseVerdict splits a classifier response into the relevance verdict and
// its justification. The response must start with Relevant or Irrelevant;
// anything else is a parse failure.
func ParseVerdict(response string) (Verdict, error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return Verdict{}, ErrUnparsableVerdict
	}

	word, reason, _ := strings.Cut(trimmed, " ")
	word = strings.ToLower(strings.Trim(word, ".,:;!"))

	switch word {
	case "relevant":
		return Verdict{IsRelevant: true, Reason: strings.TrimSpace(reason)}, nil
	case "irrelevant":
		return Verdict{IsRelevant: false, Reason: strings.TrimSpace(reason)}, nil
	default:
		return Verdict{}, fmt.Errorf("%w: %q", ErrUnparsableVerdict, firstLine(trimmed))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
