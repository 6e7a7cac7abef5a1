// Package client talks to a docchat gateway over HTTP and websockets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ericksa/docchat/internal/analysis"
	"github.com/ericksa/docchat/internal/session"
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Analysis is the analysis view of a session.
type Analysis struct {
	State     analysis.State        `json:"state"`
	View      analysis.View         `json:"view"`
	Risk      *analysis.RiskSummary `json:"risk,omitempty"`
	ErrorText string                `json:"error_text,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for the gateway at baseURL. A nil httpClient uses a
// client with a timeout long enough for agent replies.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 200 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *Client) Greeting(ctx context.Context) (string, error) {
	var resp map[string]string
	if err := c.do(ctx, http.MethodGet, "/greeting", nil, &resp); err != nil {
		return "", err
	}
	return resp["greeting"], nil
}

func (c *Client) CreateSession(ctx context.Context) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	var resp map[string][]string
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp["sessions"], nil
}

func (c *Client) Session(ctx context.Context, id string) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

// SendMessage sends content and returns the session once the reply arrived.
func (c *Client) SendMessage(ctx context.Context, id, content string) (*session.Snapshot, error) {
	return c.post(ctx, sessionPath(id, "/messages"), map[string]string{"content": content})
}

func (c *Client) FollowUp(ctx context.Context, id, question string) (*session.Snapshot, error) {
	return c.post(ctx, sessionPath(id, "/followups"), map[string]string{"question": question})
}

func (c *Client) Reset(ctx context.Context, id string) (*session.Snapshot, error) {
	return c.post(ctx, sessionPath(id, "/reset"), nil)
}

// ResetAnalysis discards the document analysis and keeps the conversation.
func (c *Client) ResetAnalysis(ctx context.Context, id string) (*session.Snapshot, error) {
	return c.post(ctx, sessionPath(id, "/analysis/reset"), nil)
}

// Upload sends a document as multipart form data. Analysis continues on the
// gateway after Upload returns.
func (c *Client) Upload(ctx context.Context, id, name string, r io.Reader) (*session.Snapshot, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, sessionPath(id, "/documents"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var snap session.Snapshot
	if err := c.send(req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Download writes the stored original document of a session to w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, sessionPath(id, "/document"), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) Analysis(ctx context.Context, id string) (*Analysis, error) {
	var a Analysis
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "/analysis"), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// WaitForAnalysis polls until the analysis leaves the busy statuses.
func (c *Client) WaitForAnalysis(ctx context.Context, id string, interval time.Duration) (*Analysis, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a, err := c.Analysis(ctx, id)
		if err != nil {
			return nil, err
		}
		if !a.State.Status.Busy() {
			return a, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Notices returns and clears the pending notices of a session.
func (c *Client) Notices(ctx context.Context, id string) ([]session.Notice, error) {
	var resp map[string][]session.Notice
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "/notices"), nil, &resp); err != nil {
		return nil, err
	}
	return resp["notices"], nil
}

func (c *Client) TogglePanel(ctx context.Context, id, panel string) (*session.Layout, error) {
	var layout session.Layout
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "/layout/"+url.PathEscape(panel)), nil, &layout); err != nil {
		return nil, err
	}
	return &layout, nil
}

// Watch streams the events of a session to fn until ctx is done, the
// session closes or fn returns an error. The initial snapshot is passed to
// onSnapshot when it is not nil.
func (c *Client) Watch(ctx context.Context, id string, onSnapshot func(session.Snapshot), fn func(session.Event) error) error {
	u, err := url.Parse(c.baseURL + sessionPath(id, "/events"))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		var frame struct {
			Type     string            `json:"type"`
			Snapshot *session.Snapshot `json:"snapshot"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if frame.Type == "snapshot" {
			if onSnapshot != nil && frame.Snapshot != nil {
				onSnapshot(*frame.Snapshot)
			}
			continue
		}

		var e session.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body any) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := c.do(ctx, http.MethodPost, path, body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func sessionPath(id, suffix string) string {
	return "/sessions/" + url.PathEscape(id) + suffix
}
