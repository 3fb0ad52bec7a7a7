package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/smilemakc/dagrun/pkg/httpclient"
)

// HTTPExecutor performs http_request nodes. Any received response is a
// success regardless of status code; branching on status is the
// condition node's job. Transport failures are returned as errors and
// are retryable by the harness.
type HTTPExecutor struct {
	sender httpclient.Sender
}

// NewHTTPExecutor creates an HTTP executor over the given sender.
func NewHTTPExecutor(sender httpclient.Sender) *HTTPExecutor {
	return &HTTPExecutor{sender: sender}
}

// Validate checks the http_request config.
func (e *HTTPExecutor) Validate(config map[string]any) error {
	if getString(config, "url", "") == "" {
		return fmt.Errorf("http_request requires a url")
	}
	if _, err := getStringMap(config, "headers"); err != nil {
		return err
	}
	return nil
}

// Execute sends the request and shapes the outputs:
// status_code, headers, body, result, url, duration_ms.
func (e *HTTPExecutor) Execute(ctx context.Context, config map[string]any, _ *Context) (map[string]any, error) {
	url := getString(config, "url", "")
	if url == "" {
		return nil, fmt.Errorf("http_request requires a url")
	}
	headers, err := getStringMap(config, "headers")
	if err != nil {
		return nil, err
	}

	var body []byte
	if raw, ok := config["body"]; ok && raw != nil {
		if s, isString := raw.(string); isString {
			body = []byte(s)
		} else {
			body, err = json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("encoding request body: %w", err)
			}
			if _, set := headers["Content-Type"]; !set {
				headers["Content-Type"] = "application/json"
			}
		}
	}

	resp, err := e.sender.Send(ctx, &httpclient.Request{
		Method:    strings.ToUpper(getString(config, "method", "GET")),
		URL:       url,
		Headers:   headers,
		Body:      body,
		Timeout:   getSeconds(config, "timeout", 0),
		VerifySSL: getBool(config, "verify_ssl", true),
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     anyMap(resp.Headers),
		"body":        resp.Body,
		"result":      parseResult(resp),
		"url":         url,
		"duration_ms": resp.DurationMs,
	}, nil
}

// parseResult decodes the body when the response is JSON, otherwise
// returns the raw string.
func parseResult(resp *httpclient.Response) any {
	contentType := resp.Headers["Content-Type"]
	if contentType == "" {
		contentType = resp.Headers["content-type"]
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !isJSONMediaType(mediaType) {
		return resp.Body
	}
	var parsed any
	if err := json.Unmarshal([]byte(resp.Body), &parsed); err != nil {
		return resp.Body
	}
	return parsed
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func anyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
