// Package telegram implements the destination sink over the Telegram
// Bot API. Documents are streamed from disk as multipart uploads, and
// the API's 429 retry_after answer is surfaced as the uploader's
// rate-limit signal.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/progress"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/uploader"
)

// MaxDocumentSize is the Bot API ceiling for a single document.
const MaxDocumentSize = 2 * 1024 * 1024 * 1024

type Client struct {
	base    string
	token   string
	httpc   *http.Client
	maxSize int64
}

func NewClient(base, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		base:  base,
		token: token,
		httpc: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		maxSize: MaxDocumentSize,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
	Parameters  *apiParameters  `json:"parameters"`
}

type apiParameters struct {
	RetryAfter int `json:"retry_after"`
}

type apiMessage struct {
	MessageID int64 `json:"message_id"`
}

func (c *Client) method(name string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.base, c.token, name)
}

// SendContent uploads path to chat as a document. Implements
// uploader.Sink.
func (c *Client) SendContent(ctx context.Context, chat, path, caption string, onProgress progress.Func) (uploader.Ref, error) {
	info, err := os.Stat(path)
	if err != nil {
		return uploader.Ref{}, err
	}
	if info.Size() > c.maxSize {
		return uploader.Ref{}, fmt.Errorf("telegram: document %d bytes exceeds %d limit", info.Size(), c.maxSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return uploader.Ref{}, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeDocumentForm(mw, chat, caption, filepath.Base(path), &progressReader{
			r:     f,
			total: info.Size(),
			fn:    onProgress,
		})
		mw.Close()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("sendDocument"), pr)
	if err != nil {
		return uploader.Ref{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return uploader.Ref{}, err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return uploader.Ref{}, fmt.Errorf("telegram: decoding response: %w", err)
	}

	if !apiResp.OK {
		if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
			return uploader.Ref{}, &uploader.RateLimitedError{
				RetryAfter: time.Duration(apiResp.Parameters.RetryAfter) * time.Second,
			}
		}
		return uploader.Ref{}, fmt.Errorf("telegram: API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}

	var msg apiMessage
	if err := json.Unmarshal(apiResp.Result, &msg); err != nil {
		return uploader.Ref{}, fmt.Errorf("telegram: decoding message: %w", err)
	}

	return uploader.Ref{Chat: chat, MessageID: msg.MessageID}, nil
}

// SendMessage posts a plain text status message to chat. Used for
// throttled progress notifications; failures are the caller's to
// swallow.
func (c *Client) SendMessage(ctx context.Context, chat, text string) error {
	body := map[string]string{
		"chat_id": chat,
		"text":    text,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("sendMessage"), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return err
	}
	if !apiResp.OK {
		if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
			return &uploader.RateLimitedError{
				RetryAfter: time.Duration(apiResp.Parameters.RetryAfter) * time.Second,
			}
		}
		return fmt.Errorf("telegram: API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}
	return nil
}

func writeDocumentForm(mw *multipart.Writer, chat, caption, filename string, doc io.Reader) error {
	if err := mw.WriteField("chat_id", chat); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	fw, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, doc)
	return err
}

// progressReader reports cumulative bytes read to a progress.Func.
type progressReader struct {
	r     io.Reader
	total int64
	done  int64
	fn    progress.Func
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.fn != nil {
			p.fn(p.done, p.total)
		}
	}
	return n, err
}
