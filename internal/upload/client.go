package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"moneymind/internal/queue"
)

const (
	userAgent       = "MoneyMind-Uploader/1.0"
	imagesField     = "images"
	optionsField    = "options"
	maxResponseBody = 1 << 20
	maxErrorBody    = 512
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

type client struct {
	endpoint string
	http     *http.Client
}

func newClient(endpoint string, httpClient *http.Client, timeout time.Duration) *client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &client{endpoint: strings.TrimRight(endpoint, "/"), http: httpClient}
}

// uploadURL returns the supplier image endpoint, scoped to ownerID when set.
func (c *client) uploadURL(ownerID string) string {
	if ownerID == "" {
		return c.endpoint + "/api/supplier/images"
	}
	return c.endpoint + "/api/supplier/" + url.PathEscape(ownerID) + "/images"
}

func (c *client) upload(ctx context.Context, file File, ownerID string, options queue.Options) (json.RawMessage, error) {
	body, contentType, err := encodeMultipart(file, options)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL(ownerID), body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", file.Name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(payload))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &RejectedError{StatusCode: resp.StatusCode, Status: resp.Status, Body: text}
	}
	return decodeResult(payload), nil
}

func encodeMultipart(file File, options queue.Options) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, imagesField, quoteEscaper.Replace(file.Name)))
	header.Set("Content-Type", file.MimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}

	if len(options) > 0 {
		encoded, err := json.Marshal(options)
		if err != nil {
			return nil, "", fmt.Errorf("encode upload options: %w", err)
		}
		if err := writer.WriteField(optionsField, string(encoded)); err != nil {
			return nil, "", fmt.Errorf("write options field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finish multipart body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

// decodeResult keeps JSON bodies as-is and wraps anything else as a JSON string.
func decodeResult(payload []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(bytes.Clone(trimmed))
	}
	encoded, err := json.Marshal(string(trimmed))
	if err != nil {
		return json.RawMessage("null")
	}
	return encoded
}
