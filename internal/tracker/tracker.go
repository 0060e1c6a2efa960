// Package tracker implements the §6 external tracker client: a thin
// wrapper over short-lived `bd`-compatible CLI invocations (issued via
// internal/procrunner), with a retry/backoff layer before the scheduler's
// fail-open behaviour kicks in.
package tracker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/femtomc/noface/internal/procrunner"
)

// IssueRecord is one line of the tracker's `list` JSONL stream.
type IssueRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"` // open | in_progress | closed
	Priority    int    `json:"priority"`
	IssueType   string `json:"issue_type"`
}

// Client talks to a `bd`-compatible tracker binary via short-lived CLI
// calls.
type Client struct {
	binary  string
	timeout time.Duration
}

// New returns a Client invoking binary (e.g. "bd") with timeout per call.
func New(binary string, timeout time.Duration) *Client {
	return &Client{binary: binary, timeout: timeout}
}

func (c *Client) run(ctx context.Context, args ...string) (procrunner.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	argv := append([]string{c.binary}, args...)
	return procrunner.RunToCompletion(cctx, argv, "")
}

// withRetry wraps a tracker call in exponential backoff before giving up;
// exhausting retries still returns an error so the scheduler can fail
// open (§4.5, §9 open questions — this is a courtesy, not a guarantee).
func withRetry(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(fn, bo)
}

// List returns every issue known to the tracker with status open or
// in_progress.
func (c *Client) List(ctx context.Context) ([]IssueRecord, error) {
	var records []IssueRecord
	err := withRetry(ctx, func() error {
		res, err := c.run(ctx, "list", "--json")
		if err != nil {
			return err
		}
		records = nil
		scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var rec IssueRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				continue // malformed line: skip, don't fail the whole list
			}
			if rec.Status != "open" && rec.Status != "in_progress" {
				continue
			}
			records = append(records, rec)
		}
		return scanner.Err()
	})
	return records, err
}

// Ready returns the subset of ids whose dependencies are satisfied. A
// non-nil error here is the scheduler's cue to fail open.
func (c *Client) Ready(ids []string) (map[string]struct{}, error) {
	ctx := context.Background()
	var ready map[string]struct{}
	err := withRetry(ctx, func() error {
		args := append([]string{"ready", "--json"}, ids...)
		res, err := c.run(ctx, args...)
		if err != nil {
			return err
		}
		var readyIDs []string
		if err := json.Unmarshal([]byte(res.Stdout), &readyIDs); err != nil {
			return err
		}
		ready = make(map[string]struct{}, len(readyIDs))
		for _, id := range readyIDs {
			ready[id] = struct{}{}
		}
		return nil
	})
	return ready, err
}

// Create files a new issue and returns its id.
func (c *Client) Create(ctx context.Context, title, body string, labels []string) (string, error) {
	args := []string{"create", title}
	if body != "" {
		args = append(args, "--body", body)
	}
	for _, l := range labels {
		args = append(args, "--label", l)
	}
	res, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Update applies field changes to an existing issue.
func (c *Client) Update(ctx context.Context, id string, fields map[string]string) error {
	args := []string{"update", id}
	for k, v := range fields {
		args = append(args, fmt.Sprintf("--%s", k), v)
	}
	_, err := c.run(ctx, args...)
	return err
}

// Close closes an issue with a reason.
func (c *Client) Close(ctx context.Context, id, reason string) error {
	_, err := c.run(ctx, "close", id, "--reason", reason)
	return err
}

// Comment appends a comment to an issue.
func (c *Client) Comment(ctx context.Context, id, text string) error {
	_, err := c.run(ctx, "comment", id, text)
	return err
}

// DepAdd records that issue a depends on issue b.
func (c *Client) DepAdd(ctx context.Context, a, b string) error {
	_, err := c.run(ctx, "dep", "add", a, b)
	return err
}
