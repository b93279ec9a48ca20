// Package github is a small REST client for the parts of the GitHub API
// linkstash needs: the authenticated user, repositories and file contents.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/linkstash/linkstash/internal/errors"
	"github.com/linkstash/linkstash/internal/metrics"
	"github.com/linkstash/linkstash/pkg/headers"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"
	acceptHeader   = "application/vnd.github.v3+json"
	maxBodyBytes   = 32 << 20
)

// Doer sends HTTP requests. *http.Client and *transport.Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// User is the subset of GET /user that linkstash reads.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

// Repository is the subset of GET /repos/{owner}/{repo} that linkstash reads.
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

// CreateRepositoryRequest is the body of POST /user/repos.
type CreateRepositoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
}

// FileContent is a decoded file from the contents endpoint.
type FileContent struct {
	Path    string
	SHA     string
	Content []byte
}

// UpdateFileRequest describes a contents PUT. SHA must be empty when creating the file.
type UpdateFileRequest struct {
	Message string
	Content []byte
	SHA     string
}

type contentsResponse struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type updateFileBody struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

type updateFileResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// Client calls the GitHub REST API on behalf of a bearer token.
type Client struct {
	baseURL string
	doer    Doer
	metrics *metrics.Metrics

	mu        sync.Mutex
	rateLimit *headers.RateLimit
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records every call in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, doer Doer, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		doer:    doer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetUser returns the account that owns token.
func (c *Client) GetUser(ctx context.Context, token string) (*User, error) {
	resp, err := c.do(ctx, "get_user", http.MethodGet, "/user", token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		drain(resp.Body)
		return nil, &errors.ErrRemoteRead{Operation: "identity", StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp)}
	}

	var user User
	if err := decodeJSON(resp.Body, &user); err != nil {
		return nil, &errors.ErrRemoteRead{Operation: "identity", StatusCode: resp.StatusCode, Err: err}
	}
	if user.Login == "" {
		return nil, &errors.ErrRemoteRead{Operation: "identity", StatusCode: resp.StatusCode, Err: fmt.Errorf("response has no login")}
	}
	return &user, nil
}

// GetRepository returns the repository, or nil when it does not exist.
// CheckToken asks GET /user whether token is accepted. Any 2xx answer
// counts; the body is not read.
func (c *Client) CheckToken(ctx context.Context, token string) error {
	resp, err := c.do(ctx, "check_token", http.MethodGet, "/user", token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return &errors.ErrRemoteRead{Operation: "identity", StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp)}
	}
	return nil
}

func (c *Client) GetRepository(ctx context.Context, token, owner, repo string) (*Repository, error) {
	resp, err := c.do(ctx, "get_repo", http.MethodGet, "/repos/"+escape(owner)+"/"+escape(repo), token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		drain(resp.Body)
		return nil, nil
	}
	if !isSuccess(resp.StatusCode) {
		drain(resp.Body)
		return nil, &errors.ErrRepositoryCheck{Repository: owner + "/" + repo, StatusCode: resp.StatusCode}
	}

	var r Repository
	if err := decodeJSON(resp.Body, &r); err != nil {
		return nil, &errors.ErrRepositoryCheck{Repository: owner + "/" + repo, StatusCode: resp.StatusCode, Err: err}
	}
	return &r, nil
}

// CreateRepository creates a repository owned by the token's user.
func (c *Client) CreateRepository(ctx context.Context, token string, req CreateRepositoryRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, "create_repo", http.MethodPost, "/user/repos", token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return &errors.ErrRepositoryCheck{Repository: req.Name, StatusCode: resp.StatusCode, Operation: "create"}
	}
	return nil
}

// GetFile reads and base64-decodes a file. A missing file yields nil, nil.
func (c *Client) GetFile(ctx context.Context, token, owner, repo, path string) (*FileContent, error) {
	resp, err := c.do(ctx, "get_contents", http.MethodGet, contentsPath(owner, repo, path), token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		drain(resp.Body)
		return nil, nil
	}
	if !isSuccess(resp.StatusCode) {
		drain(resp.Body)
		return nil, &errors.ErrRemoteRead{Path: path, StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp)}
	}

	var payload contentsResponse
	if err := decodeJSON(resp.Body, &payload); err != nil {
		return nil, &errors.ErrRemoteRead{Path: path, StatusCode: resp.StatusCode, Err: err}
	}
	if payload.Encoding != "" && payload.Encoding != "base64" {
		return nil, &errors.ErrRemoteRead{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("unsupported encoding %q", payload.Encoding)}
	}

	// the API wraps base64 content at 60 columns
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(payload.Content)
	content, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, &errors.ErrRemoteRead{Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	return &FileContent{Path: path, SHA: payload.SHA, Content: content}, nil
}

// UpdateFile creates or replaces a file and returns the new blob SHA.
// A stale SHA is reported as *errors.ErrRemoteWrite with Conflict() true.
func (c *Client) UpdateFile(ctx context.Context, token, owner, repo, path string, req UpdateFileRequest) (string, error) {
	body, err := json.Marshal(updateFileBody{
		Message: req.Message,
		Content: base64.StdEncoding.EncodeToString(req.Content),
		SHA:     req.SHA,
	})
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, "put_contents", http.MethodPut, contentsPath(owner, repo, path), token, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		drain(resp.Body)
		return "", &errors.ErrRemoteWrite{Path: path, StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp)}
	}

	var payload updateFileResponse
	if err := decodeJSON(resp.Body, &payload); err != nil {
		// the write went through; only the echo is unreadable
		return "", nil
	}
	return payload.Content.SHA, nil
}

func (c *Client) do(ctx context.Context, operation, method, path, token string, body []byte) (*http.Response, error) {
	if token == "" {
		return nil, &errors.ErrNotAuthenticated{}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &errors.ErrNetwork{Operation: operation, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", acceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(operation, "error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errors.ErrNetwork{Operation: operation, Err: err}
	}
	c.metrics.RecordProviderRequest(operation, strconv.Itoa(resp.StatusCode))
	if rl, ok := headers.ParseRateLimit(resp.Header); ok {
		c.mu.Lock()
		c.rateLimit = &rl
		c.mu.Unlock()
		c.metrics.RecordRateLimit(rl.Resource, rl.Remaining)
	}
	return resp, nil
}

// RateLimit returns the budget reported by the most recent response.
func (c *Client) RateLimit() (headers.RateLimit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rateLimit == nil {
		return headers.RateLimit{}, false
	}
	return *c.rateLimit, true
}

// retryAfter is how long GitHub asked us to back off, for 403 and 429
// answers: Retry-After when present, else the primary limit's reset.
func retryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}
	if d := headers.RetryAfter(resp.Header); d > 0 {
		return d
	}
	if rl, ok := headers.ParseRateLimit(resp.Header); ok && rl.Exhausted() {
		return rl.ResetIn(time.Now())
	}
	return 0
}

func contentsPath(owner, repo, path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = escape(s)
	}
	return "/repos/" + escape(owner) + "/" + escape(repo) + "/contents/" + strings.Join(segments, "/")
}

func escape(s string) string {
	return url.PathEscape(s)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r, maxBodyBytes)).Decode(v)
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxBodyBytes))
}
