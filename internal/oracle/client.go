// Package oracle calls a vision model that turns one page image into raw text.
package oracle

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

	"github.com/amrrdev/quizscan/internal/pipeline"
)

const defaultModel = "google/gemini-2.5-flash"

// Instruction is sent with every page. The marker it asks for is the one the
// question parser recognises.
const Instruction = `You are reading one scanned page of a multiple-choice exam.

Transcribe every multiple-choice question on the page, in the order they appear, using exactly this layout:

1. Question text
A. First option
B. Second option (CORRECT)
C. Third option

Rules:
- Number each question with its number as printed, followed by a period and a space.
- Put each option on its own line, starting with its uppercase letter, a period and a space.
- Append (CORRECT) to the single option that is visually highlighted as the right answer (circled, ticked, bold, shaded or underlined). If none is highlighted, mark nothing.
- Do not output anything else: no headings, explanations, markdown or code fences.
- If the page has no questions, output nothing.`

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Extract returns the raw text the model read from image. Failures are
// classified: network, timeout, rate limit, credential and server errors are
// transient, anything the provider rejects as bad input is permanent.
func (c *Client) Extract(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", pipeline.PermanentError("empty page image", nil)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", pipeline.PermanentError(fmt.Sprintf("unsupported image type %q", mimeType), nil)
	}

	body, err := json.Marshal(request{
		Model: c.model,
		Messages: []message{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: Instruction},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
	})
	if err != nil {
		return "", pipeline.PermanentError("failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", pipeline.PermanentError("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Title", "quizscan")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pipeline.TransientError("oracle request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", pipeline.TransientError("failed to read oracle response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, payload)
	}

	var out response
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", pipeline.TransientError("oracle returned malformed JSON", err)
	}
	if len(out.Choices) == 0 {
		return "", pipeline.TransientError("oracle returned no choices", nil)
	}
	return out.Choices[0].Message.Content, nil
}

var errStatus = errors.New("unexpected oracle status")

func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("%w %d: %s", errStatus, status, truncate(string(body), 512))
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		// a revoked or mistyped key is not the page's fault
		return pipeline.TransientError("oracle credentials rejected", err)
	}
	if shouldRetry(status) {
		return pipeline.TransientError("oracle unavailable", err)
	}
	return pipeline.PermanentError("oracle rejected page", err)
}

func shouldRetry(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return status >= 500
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
