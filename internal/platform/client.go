package platform

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

// Messenger is the outbound boundary with the messaging platform. The core
// never talks to the wire directly; tests swap in a fake.
type Messenger interface {
	// SendMessage delivers text (HTML) with an optional keyboard and
	// returns the platform-assigned message id.
	SendMessage(ctx context.Context, chatID int64, text string, markup *ReplyMarkup) (int64, error)

	// EditMessage replaces the text and/or keyboard of a sent message.
	EditMessage(ctx context.Context, chatID, messageID int64, text string, markup *ReplyMarkup) error

	// DeleteMessage removes a sent message.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	// SendFile re-sends a platform-stored file to a chat.
	SendFile(ctx context.Context, chatID int64, fileID string) (int64, error)

	// AnswerCallback acknowledges a button press with a short notice.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// HTTPClient implements Messenger against a bot-API style HTTP endpoint:
// POST {base}/bot{token}/{method} with a JSON body, JSON envelope response.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a Messenger for the given bot API base URL and token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

func (c *HTTPClient) call(ctx context.Context, method string, payload interface{}, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s failed: %s", method, envelope.Description)
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, chatID int64, text string, markup *ReplyMarkup) (int64, error) {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}

	var sent sentMessage
	if err := c.call(ctx, "sendMessage", payload, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *HTTPClient) EditMessage(ctx context.Context, chatID, messageID int64, text string, markup *ReplyMarkup) error {
	method := "editMessageText"
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"parse_mode": "HTML",
	}
	if text != "" {
		payload["text"] = text
	} else {
		// Keyboard-only edit
		method = "editMessageReplyMarkup"
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return c.call(ctx, method, payload, nil)
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

func (c *HTTPClient) SendFile(ctx context.Context, chatID int64, fileID string) (int64, error) {
	var sent sentMessage
	err := c.call(ctx, "sendDocument", map[string]interface{}{
		"chat_id":  chatID,
		"document": fileID,
	}, &sent)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *HTTPClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

// FileFetcher downloads the bytes of a platform-stored file. Split from
// Messenger because only the export path needs it.
type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

type fileInfo struct {
	FilePath string `json:"file_path"`
}

// FetchFile resolves the file's storage path via getFile, then downloads it
// from the file endpoint.
func (c *HTTPClient) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	var info fileInfo
	if err := c.call(ctx, "getFile", map[string]interface{}{"file_id": fileID}, &info); err != nil {
		return nil, err
	}
	if info.FilePath == "" {
		return nil, fmt.Errorf("getFile returned no path for %s", fileID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, info.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
}
