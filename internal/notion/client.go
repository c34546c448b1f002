package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "https://api.notion.com"
	DefaultAPIVersion = "2022-06-28"

	// AppendBatchSize is the number of children sent per append call.
	// The API accepts at most 100.
	AppendBatchSize = 80

	listPageSize = 100
)

var ErrInvalidInput = errors.New("invalid input")

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Operation  string
}

func (e *HTTPError) Error() string {
	prefix := "notion request"
	if e.Operation != "" {
		prefix = e.Operation
	}
	return fmt.Sprintf("%s failed: HTTP %d / %s", prefix, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

type ClientOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	APIVersion string
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	BatchSize  int
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	apiVersion string
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	batchSize  int
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > 100 {
		batchSize = AppendBatchSize
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		apiVersion: apiVersion,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		batchSize:  batchSize,
	}
}

type SearchFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

type SearchRequest struct {
	Query       string        `json:"query,omitempty"`
	Filter      *SearchFilter `json:"filter,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
	StartCursor string        `json:"start_cursor,omitempty"`
}

type SearchResponse struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

type Parent struct {
	PageID string `json:"page_id"`
}

type CreatePageRequest struct {
	Parent     Parent         `json:"parent"`
	Properties map[string]any `json:"properties"`
	Children   []Block        `json:"children,omitempty"`
}

// NewCreatePageRequest builds a child page request with a plain title.
func NewCreatePageRequest(parentPageID, title string, children []Block) CreatePageRequest {
	return CreatePageRequest{
		Parent: Parent{PageID: parentPageID},
		Properties: map[string]any{
			"title": map[string]any{
				"title": []RichText{Text(title)},
			},
		},
		Children: children,
	}
}

type blockChildrenResponse struct {
	Results    []Block `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	var out SearchResponse
	err := c.doJSON(ctx, "search", http.MethodPost, "/v1/search", req, &out)
	return out, err
}

func (c *Client) RetrievePage(ctx context.Context, pageID string) (Page, error) {
	if strings.TrimSpace(pageID) == "" {
		return Page{}, ErrInvalidInput
	}
	var out Page
	err := c.doJSON(ctx, "retrieve page", http.MethodGet, "/v1/pages/"+url.PathEscape(pageID), nil, &out)
	return out, err
}

func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (Page, error) {
	if strings.TrimSpace(req.Parent.PageID) == "" {
		return Page{}, ErrInvalidInput
	}
	var out Page
	if err := c.doWrite(ctx, "create page", http.MethodPost, "/v1/pages", req, &out); err != nil {
		return Page{}, err
	}
	if out.ID == "" {
		return Page{}, fmt.Errorf("create page: response has no page id")
	}
	return out, nil
}

func (c *Client) ArchivePage(ctx context.Context, pageID string) (Page, error) {
	if strings.TrimSpace(pageID) == "" {
		return Page{}, ErrInvalidInput
	}
	var out Page
	body := map[string]any{"archived": true}
	err := c.doWrite(ctx, "archive page", http.MethodPatch, "/v1/pages/"+url.PathEscape(pageID), body, &out)
	return out, err
}

func (c *Client) ListBlockChildren(ctx context.Context, blockID string) ([]Block, error) {
	if strings.TrimSpace(blockID) == "" {
		return nil, ErrInvalidInput
	}
	var out []Block
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page_size", strconv.Itoa(listPageSize))
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		var page blockChildrenResponse
		path := fmt.Sprintf("/v1/blocks/%s/children?%s", url.PathEscape(blockID), q.Encode())
		if err := c.doJSON(ctx, "list block children", http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Results...)
		if !page.HasMore || page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = *page.NextCursor
	}
	return out, nil
}

func (c *Client) AppendBlockChildren(ctx context.Context, blockID string, blocks []Block) error {
	if strings.TrimSpace(blockID) == "" {
		return ErrInvalidInput
	}
	path := fmt.Sprintf("/v1/blocks/%s/children", url.PathEscape(blockID))
	for start := 0; start < len(blocks); start += c.batchSize {
		end := start + c.batchSize
		if end > len(blocks) {
			end = len(blocks)
		}
		body := map[string]any{"children": blocks[start:end]}
		if err := c.doWrite(ctx, "append block children", http.MethodPatch, path, body, nil); err != nil {
			return err
		}
	}
	return nil
}

// doJSON sends a read-only request. Transport failures, 429 and 5xx
// responses are retried.
func (c *Client) doJSON(ctx context.Context, operation, method, requestPath string, body any, out any) error {
	return c.do(ctx, operation, method, requestPath, body, out, true)
}

// doWrite sends a request that changes remote state. It is sent once: a
// replay after a lost response would create pages or blocks twice.
func (c *Client) doWrite(ctx context.Context, operation, method, requestPath string, body any, out any) error {
	return c.do(ctx, operation, method, requestPath, body, out, false)
}

func (c *Client) do(ctx context.Context, operation, method, requestPath string, body any, out any, retry bool) error {
	if c == nil {
		return fmt.Errorf("notion client is nil")
	}
	if c.token == "" {
		return fmt.Errorf("notion token is empty")
	}
	var bodyBytes []byte
	if body != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(body); err != nil {
			return err
		}
		bodyBytes = buf.Bytes()
	}

	maxRetries := c.maxRetries
	if !retry {
		maxRetries = 0
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Notion-Version", c.apiVersion)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%s: %w", operation, err)
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("%s: decode response: %w", operation, err)
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return newHTTPError(operation, resp.StatusCode, payload)
	}
}

func newHTTPError(operation string, status int, payload []byte) *HTTPError {
	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	message := strings.TrimSpace(errPayload.Message)
	if message == "" {
		message = strings.TrimSpace(errPayload.Code)
	}
	if message == "" {
		raw := payload
		if len(raw) > 300 {
			raw = raw[:300]
		}
		message = strings.TrimSpace(string(raw))
	}
	return &HTTPError{
		StatusCode: status,
		Code:       errPayload.Code,
		Message:    message,
		Operation:  operation,
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
