// Package azure implements ocr.Client on top of the Azure Document Intelligence REST API.
package azure

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

	"medreport-backend/internal/ocr"
)

const (
	providerName = "azure"

	defaultModel        = "prebuilt-read"
	defaultAPIVersion   = "2024-11-30"
	defaultPollInterval = time.Second
	maxPollInterval     = 10 * time.Second

	// NotConfiguredMessage is the failure reason recorded when credentials are missing.
	NotConfiguredMessage = "Azure Document Intelligence is not configured. Please set the required environment variables."
)

// Options configures a Client.
type Options struct {
	Endpoint     string
	Key          string
	Model        string
	APIVersion   string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Client calls the analyze endpoint and polls the returned operation until it settles.
type Client struct {
	endpoint     string
	key          string
	model        string
	apiVersion   string
	pollInterval time.Duration
	httpClient   *http.Client
}

// New builds a client. Missing credentials are not an error here; the client reports
// IsConfigured() == false and every Extract call fails with ocr.ErrServiceUnavailable.
func New(opts Options) *Client {
	c := &Client{
		endpoint:     strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/"),
		key:          strings.TrimSpace(opts.Key),
		model:        strings.TrimSpace(opts.Model),
		apiVersion:   strings.TrimSpace(opts.APIVersion),
		pollInterval: opts.PollInterval,
		httpClient:   opts.HTTPClient,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.apiVersion == "" {
		c.apiVersion = defaultAPIVersion
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if _, err := url.ParseRequestURI(c.endpoint); err != nil {
		c.endpoint = ""
	}
	return c
}

func (c *Client) Name() string { return providerName }

// IsConfigured reports whether both endpoint and key were supplied.
func (c *Client) IsConfigured() bool {
	return c.endpoint != "" && c.key != ""
}

type analyzeOperation struct {
	Status        string         `json:"status"`
	AnalyzeResult *analyzeResult `json:"analyzeResult"`
	Error         *apiError      `json:"error"`
}

type analyzeResult struct {
	Content string `json:"content"`
	Pages   []struct {
		PageNumber int `json:"pageNumber"`
		Words      []struct {
			Content    string   `json:"content"`
			Confidence *float64 `json:"confidence"`
		} `json:"words"`
	} `json:"pages"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
}

// Extract submits the document and waits for the analysis to finish. It performs
// a single attempt; the caller owns retry policy and the overall deadline.
func (c *Client) Extract(ctx context.Context, doc ocr.Document) (ocr.Result, error) {
	if !c.IsConfigured() {
		return ocr.Result{}, &ocr.UnavailableError{Provider: providerName, Reason: NotConfiguredMessage}
	}

	opURL, err := c.submit(ctx, doc)
	if err != nil {
		return ocr.Result{}, err
	}

	op, err := c.poll(ctx, opURL)
	if err != nil {
		return ocr.Result{}, err
	}
	return toResult(op.AnalyzeResult), nil
}

func (c *Client) analyzeURL() string {
	q := url.Values{}
	q.Set("api-version", c.apiVersion)
	return fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?%s", c.endpoint, url.PathEscape(c.model), q.Encode())
}

func (c *Client) submit(ctx context.Context, doc ocr.Document) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.analyzeURL(), bytes.NewReader(doc.Data))
	if err != nil {
		return "", &ocr.UpstreamError{Provider: providerName, Code: ocr.CodeTransport, Err: err}
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", upstreamFromResponse(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	opURL := strings.TrimSpace(resp.Header.Get("Operation-Location"))
	if opURL == "" {
		return "", &ocr.UpstreamError{Provider: providerName, StatusCode: resp.StatusCode, Code: ocr.CodeMalformedPayload, Message: "missing Operation-Location header"}
	}
	return opURL, nil
}

func (c *Client) poll(ctx context.Context, opURL string) (analyzeOperation, error) {
	for {
		op, retryAfter, err := c.fetchOperation(ctx, opURL)
		if err != nil {
			return analyzeOperation{}, err
		}

		switch strings.ToLower(op.Status) {
		case "succeeded":
			if op.AnalyzeResult == nil {
				return analyzeOperation{}, &ocr.UpstreamError{Provider: providerName, Code: ocr.CodeMalformedPayload, Message: "succeeded operation without analyzeResult"}
			}
			return op, nil
		case "failed", "canceled":
			upErr := &ocr.UpstreamError{Provider: providerName, Code: op.Status, Message: "analysis " + op.Status}
			if op.Error != nil {
				upErr.Code = op.Error.Code
				upErr.Message = op.Error.Message
			}
			return analyzeOperation{}, upErr
		case "notstarted", "running":
		default:
			return analyzeOperation{}, &ocr.UpstreamError{Provider: providerName, Code: ocr.CodeMalformedPayload, Message: fmt.Sprintf("unknown operation status %q", op.Status)}
		}

		wait := c.pollInterval
		if retryAfter > 0 {
			wait = min(retryAfter, maxPollInterval)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return analyzeOperation{}, ocr.Timeout(providerName, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) fetchOperation(ctx context.Context, opURL string) (analyzeOperation, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return analyzeOperation{}, 0, &ocr.UpstreamError{Provider: providerName, Code: ocr.CodeTransport, Err: err}
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return analyzeOperation{}, 0, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return analyzeOperation{}, 0, upstreamFromResponse(resp)
	}

	var op analyzeOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return analyzeOperation{}, 0, &ocr.UpstreamError{Provider: providerName, StatusCode: resp.StatusCode, Code: ocr.CodeMalformedPayload, Err: fmt.Errorf("decode operation: %w", err)}
	}
	return op, parseRetryAfter(resp.Header.Get("Retry-After")), nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ocr.Timeout(providerName, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
		return ocr.Timeout(providerName, err)
	}
	return &ocr.UpstreamError{Provider: providerName, Code: ocr.CodeTransport, Err: err}
}

func upstreamFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	upErr := &ocr.UpstreamError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Code:       strconv.Itoa(resp.StatusCode),
		Message:    http.StatusText(resp.StatusCode),
	}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		if env.Error.Code != "" {
			upErr.Code = env.Error.Code
		}
		if env.Error.Message != "" {
			upErr.Message = env.Error.Message
		}
	}
	return upErr
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func toResult(ar *analyzeResult) ocr.Result {
	if ar == nil {
		return ocr.Result{}
	}
	res := ocr.Result{
		Text:      ar.Content,
		Pages:     make([]ocr.Page, 0, len(ar.Pages)),
		PageCount: len(ar.Pages),
	}
	for _, p := range ar.Pages {
		page := ocr.Page{Number: p.PageNumber, Tokens: make([]ocr.Token, 0, len(p.Words))}
		for _, w := range p.Words {
			page.Tokens = append(page.Tokens, ocr.Token{Content: w.Content, Confidence: w.Confidence})
		}
		res.Pages = append(res.Pages, page)
	}
	return res
}

var _ ocr.Client = (*Client)(nil)
