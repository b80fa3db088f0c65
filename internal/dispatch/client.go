package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

// maxResponseBytes bounds how much of a backend response is kept for logs and
// history. The whole body is still read and validated.
const maxResponseBytes = 1 << 20

// Request is the JSON body posted to the backend
type Request struct {
	IssueKey       string `json:"issueKey"`
	Status         string `json:"status"`
	HasTestedLabel bool   `json:"hasTestedLabel"`
}

// Response is a successful backend reply. The body is logged and recorded
// but not interpreted. Body holds at most maxResponseBytes; Truncated
// reports that the reply was longer, in which case Body is not valid JSON.
type Response struct {
	StatusCode int
	Body       []byte
	Truncated  bool
}

// Client posts card events to the automation backend
type Client struct {
	http *http.Client
}

// NewClient creates a backend client with the given request timeout
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint joins the base url and an operation
func Endpoint(baseURL string, op domain.Operation) string {
	return strings.TrimRight(baseURL, "/") + "/" + string(op)
}

// Post sends ev to the operation selected by its column
func (c *Client) Post(ctx context.Context, baseURL string, ev domain.CardEvent) (*Response, error) {
	op := ev.Column.Operation()
	fail := func(status int, body string, err error) error {
		return &TransportError{Operation: op, IssueKey: ev.IssueKey, StatusCode: status, Body: body, Err: err}
	}

	payload, err := json.Marshal(Request{
		IssueKey:       ev.IssueKey,
		Status:         string(ev.Column),
		HasTestedLabel: ev.TestedMarker,
	})
	if err != nil {
		return nil, fail(0, "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, Endpoint(baseURL, op), bytes.NewReader(payload))
	if err != nil {
		return nil, fail(0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(0, "", err)
	}
	defer resp.Body.Close()

	kept := &prefixBuffer{max: maxResponseBytes}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if _, err := io.Copy(kept, resp.Body); err != nil {
			return nil, fail(resp.StatusCode, "", fmt.Errorf("reading response: %w", err))
		}
		return nil, fail(resp.StatusCode, kept.String(), fmt.Errorf("unexpected status %s", resp.Status))
	}
	if err := validJSON(io.TeeReader(resp.Body, kept)); err != nil {
		return nil, fail(resp.StatusCode, kept.String(), err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: kept.buf.Bytes(), Truncated: kept.truncated}, nil
}

// validJSON reads r to the end and reports whether it holds exactly one JSON
// value, without buffering it
func validJSON(r io.Reader) error {
	dec := json.NewDecoder(r)
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			var syntax *json.SyntaxError
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &syntax) {
				return errors.New("response is not JSON")
			}
			return fmt.Errorf("reading response: %w", err)
		}
		if d, ok := tok.(json.Delim); ok {
			if d == '{' || d == '[' {
				depth++
			} else {
				depth--
			}
		}
		if depth == 0 {
			break
		}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("response is not JSON")
	}
	return nil
}

// prefixBuffer keeps the first max bytes written to it and discards the rest
type prefixBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (p *prefixBuffer) Write(b []byte) (int, error) {
	if room := p.max - p.buf.Len(); room < len(b) {
		p.buf.Write(b[:max(room, 0)])
		p.truncated = true
		return len(b), nil
	}
	return p.buf.Write(b)
}

func (p *prefixBuffer) String() string { return p.buf.String() }

// Health calls GET {baseURL}/health and returns the decoded reply
func (c *Client) Health(ctx context.Context, baseURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend health returned %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding health response: %w", err)
	}
	return out, nil
}
