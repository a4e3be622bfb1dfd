package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// doer matches the HTTP client interface langchaingo accepts.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// attachmentClient rewrites chat completion requests before sending them.
// langchaingo serializes binary content parts as {"type":"binary"}, which no
// OpenAI-compatible server accepts. Images become image_url parts and other
// attachments become file parts, both carrying a base64 data URL.
type attachmentClient struct {
	next doer
}

func (c attachmentClient) Do(req *http.Request) (*http.Response, error) {
	if req.Body == nil || !strings.HasSuffix(req.URL.Path, "/chat/completions") {
		return c.next.Do(req)
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading chat request: %w", err)
	}
	body, err = rewriteAttachments(body)
	if err != nil {
		return nil, err
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return c.next.Do(req)
}

type binaryPart struct {
	Type   string `json:"type"`
	Binary struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	} `json:"binary"`
}

type imageURLPart struct {
	Type     string `json:"type"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

type filePart struct {
	Type string `json:"type"`
	File struct {
		Filename string `json:"filename"`
		FileData string `json:"file_data"`
	} `json:"file"`
}

// rewriteAttachments replaces binary content parts in a chat request body.
// Bodies without binary parts are returned unchanged.
func rewriteAttachments(body []byte) ([]byte, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding chat request: %w", err)
	}
	var messages []map[string]json.RawMessage
	if err := json.Unmarshal(payload["messages"], &messages); err != nil {
		return body, nil
	}

	changed := false
	for _, msg := range messages {
		content := bytes.TrimSpace(msg["content"])
		if len(content) == 0 || content[0] != '[' {
			continue
		}
		var parts []json.RawMessage
		if err := json.Unmarshal(content, &parts); err != nil {
			return nil, fmt.Errorf("decoding message content: %w", err)
		}
		partChanged := false
		for i, raw := range parts {
			var part binaryPart
			if err := json.Unmarshal(raw, &part); err != nil || part.Type != "binary" {
				continue
			}
			replacement, err := attachmentPart(part.Binary.MimeType, part.Binary.Data)
			if err != nil {
				return nil, err
			}
			parts[i] = replacement
			partChanged = true
		}
		if !partChanged {
			continue
		}
		encoded, err := json.Marshal(parts)
		if err != nil {
			return nil, err
		}
		msg["content"] = encoded
		changed = true
	}
	if !changed {
		return body, nil
	}

	encoded, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	payload["messages"] = encoded
	return json.Marshal(payload)
}

// attachmentPart builds the wire part for base64 data of the given type.
func attachmentPart(mimeType, data string) (json.RawMessage, error) {
	url := "data:" + mimeType + ";base64," + data
	if strings.HasPrefix(mimeType, "image/") {
		var p imageURLPart
		p.Type = "image_url"
		p.ImageURL.URL = url
		return json.Marshal(p)
	}

	var p filePart
	p.Type = "file"
	p.File.Filename = "attachment"
	if mimeType == "application/pdf" {
		p.File.Filename = "document.pdf"
	}
	p.File.FileData = url
	return json.Marshal(p)
}
