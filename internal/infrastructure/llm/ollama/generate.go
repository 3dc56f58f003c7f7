package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/infrastructure/resilience"
)

const maxErrorBody = 4096

// ModelError is a non-2xx answer from the model server. Message holds the
// "error" field of the JSON body, or the raw body when it is not JSON.
type ModelError struct {
	Model      string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *ModelError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("ollama model %s: %d %s", e.Model, e.StatusCode, msg)
}

// Transient reports whether the same request may succeed later: the server
// is overloaded, still loading weights, or sits behind a failing proxy.
func (e *ModelError) Transient() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return e.StatusCode != http.StatusNotImplemented
	}
	return false
}

func (c *Client) generate(ctx context.Context, body generateRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	var answer string
	err = c.executor.Execute(ctx, "ollama.generate", func(callCtx context.Context) error {
		out, callErr := c.postGenerate(callCtx, payload)
		answer = out
		return callErr
	}, retryPolicy)
	if err != nil {
		return "", asTemporary(err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("ollama generate: empty response from %s", c.model)
	}
	return answer, nil
}

func (c *Client) postGenerate(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.modelError(resp)
	}
	var decoded struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return decoded.Response, nil
}

func (c *Client) modelError(resp *http.Response) *ModelError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &ModelError{
		Model:      c.model,
		StatusCode: resp.StatusCode,
		Message:    msg,
		RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
	}
}

// retryAfter reads the delay-seconds form of the header. Ollama and the
// proxies in front of it do not send dates.
func retryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// retryPolicy retries transport faults and transient model answers. A
// rejected request (bad schema, unknown model) fails once and does not
// count against the breaker.
func retryPolicy(err error) resilience.ErrorClassification {
	var (
		modelErr *ModelError
		netErr   net.Error
	)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.As(err, &modelErr):
		transient := modelErr.Transient()
		return resilience.ErrorClassification{Retryable: transient, RecordFailure: transient, RetryAfter: modelErr.RetryAfter}
	case errors.As(err, &netErr):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// asTemporary tags failures the worker should redeliver instead of marking
// the document failed.
func asTemporary(err error) error {
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if retryPolicy(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "ollama generate", err)
	}
	return err
}
