package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/wire"
)

const uploadPath = "/api/media/upload"

// Upload sends a file as the multipart field "file" and returns the stored
// media with the message type the server assigned it. Every failure is an
// *chat.UploadError.
func (c *Client) Upload(ctx context.Context, fileName string, r io.Reader) (*chat.Media, chat.MessageType, error) {
	fail := func(err error) (*chat.Media, chat.MessageType, error) {
		return nil, "", &chat.UploadError{FileName: fileName, Err: err}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return fail(fmt.Errorf("create form file: %w", err))
	}
	if _, err := io.Copy(part, r); err != nil {
		return fail(fmt.Errorf("read file: %w", err))
	}
	if err := w.Close(); err != nil {
		return fail(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, &buf)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(&chat.RequestError{Method: http.MethodPost, Path: uploadPath, Err: err})
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(&chat.RequestError{Method: http.MethodPost, Path: uploadPath, StatusCode: resp.StatusCode, Body: errorText(data)})
	}

	var res wire.UploadResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fail(fmt.Errorf("decode upload result: %w", err))
	}
	if res.URL == "" {
		return fail(errors.New("upload result has no url"))
	}
	if res.FileName == "" {
		res.FileName = fileName
	}
	media, typ := res.ToMedia()
	return media, typ, nil
}
