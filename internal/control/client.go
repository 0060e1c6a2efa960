package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/femtomc/noface/internal/command"
	"github.com/femtomc/noface/internal/types"
)

// Client is a thin HTTP client for the control Server, used by one-shot
// CLI invocations that run alongside a long-lived `serve` process.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client talking to a control Server at addr
// (host:port, no scheme).
func NewClient(addr string) *Client {
	return &Client{baseURL: "http://" + addr, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to orchestrator at %s (is `serve` running?): %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Message == "" {
			eb.Message = resp.Status
		}
		return fmt.Errorf("%s", eb.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status fetches the current status report.
func (c *Client) Status() (command.StatusReport, error) {
	var report command.StatusReport
	err := c.do(http.MethodGet, "/status", nil, &report)
	return report, err
}

// Pause suspends dispatch of new issues.
func (c *Client) Pause() error { return c.do(http.MethodPost, "/pause", nil, nil) }

// Resume clears a pause.
func (c *Client) Resume() error { return c.do(http.MethodPost, "/resume", nil, nil) }

// Step runs exactly one iteration while paused.
func (c *Client) Step() error { return c.do(http.MethodPost, "/step", nil, nil) }

// Interrupt cancels every in-flight worker task.
func (c *Client) Interrupt() error { return c.do(http.MethodPost, "/interrupt", nil, nil) }

// FileIssue creates a new pending issue.
func (c *Client) FileIssue(id string, content types.IssueContent, manifest *types.Manifest) error {
	return c.do(http.MethodPost, "/issues", fileIssueRequest{ID: id, Content: content, Manifest: manifest}, nil)
}

// InspectIssue returns the full stored record for id.
func (c *Client) InspectIssue(id string) (types.Issue, error) {
	var issue types.Issue
	err := c.do(http.MethodGet, "/issues/"+id, nil, &issue)
	return issue, err
}

// AddComment appends a comment to issue id's thread.
func (c *Client) AddComment(id, author, body string) error {
	return c.do(http.MethodPost, "/issues/"+id+"/comments", commentRequest{Author: author, Body: body}, nil)
}

// UpdateIssueContent replaces issue id's content and manifest.
func (c *Client) UpdateIssueContent(id string, content types.IssueContent, manifest *types.Manifest) error {
	return c.do(http.MethodPut, "/issues/"+id, updateRequest{Content: content, Manifest: manifest}, nil)
}
