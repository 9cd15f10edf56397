// Package executor calls the remote code-execution sandbox. The sandbox is a
// black box: it accepts (language, source) and returns output or an error
// string. Execution failures are surfaced as plain output text, never as a
// distinct failure path visible to the room.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lmikhailov/coderoom/internal/domain"
)

type Runner interface {
	Run(ctx context.Context, language domain.Language, code string) (string, error)
}

type request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type response struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// HTTPRunner talks to a sandbox over its single-endpoint HTTP contract.
type HTTPRunner struct {
	url    string
	client *http.Client
}

func NewHTTPRunner(url string, timeout time.Duration) *HTTPRunner {
	return &HTTPRunner{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRunner) Run(ctx context.Context, language domain.Language, code string) (string, error) {
	body, err := json.Marshal(request{Language: string(language), Code: code})
	if err != nil {
		return "", fmt.Errorf("marshal run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call executor: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read executor response: %w", err)
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("unmarshal executor response: %w", err)
	}
	if out.Error != "" {
		// sandbox-reported failures are still room output
		return out.Error, nil
	}
	return out.Output, nil
}
