package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/httpclient"
)

const stageAnalyze = "analyze"

type Config struct {
	Endpoint     string // e.g. https://<resource>.cognitiveservices.azure.com
	APIKey       string
	APIVersion   string // default 2023-07-31
	PollInterval time.Duration
	Timeout      time.Duration // whole analysis including polling; 0 = ctx only
	Retry        httpclient.RetryPolicy
}

// Client submits documents for analysis and waits for the long-running
// operation to finish.
type Client struct {
	cfg    Config
	sender *httpclient.Sender
	logger *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-07-31"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Client{
		cfg:    cfg,
		sender: httpclient.New(httpClient, cfg.Retry, logger),
		logger: logger,
	}
}

// Analyze runs modelID over the document at documentURL and blocks until the
// service reports a terminal state. Every failure is an ErrAnalysisFailure.
func (c *Client) Analyze(ctx context.Context, modelID, documentURL string) (*Result, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()

	opURL, err := c.start(ctx, modelID, documentURL)
	if err != nil {
		return nil, err
	}
	c.logger.Info("analysis.started", "model_id", modelID, "document_url", documentURL)

	for polls := 1; ; polls++ {
		resp, err := c.sender.Do(ctx, httpclient.Request{
			Name:    "analysis",
			Method:  http.MethodGet,
			URL:     opURL,
			Headers: c.headers(),
		})
		if err != nil {
			return nil, failure(err)
		}
		op, err := ParseOperation(resp.Body)
		if err != nil {
			return nil, failure(fmt.Errorf("decode operation: %w", err))
		}

		switch op.Status {
		case StatusSucceeded:
			c.logger.Info("analysis.succeeded",
				"model_id", op.Result.ModelID,
				"documents", len(op.Result.Documents),
				"polls", polls,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return op.Result, nil
		case StatusFailed:
			reason := "analysis failed"
			if op.Error != nil {
				reason = op.Error.Code + ": " + op.Error.Message
			}
			return nil, &common.PipelineError{Kind: common.ErrAnalysisFailure, Stage: stageAnalyze, Reason: reason}
		case StatusRunning, StatusNotStarted:
		default:
			return nil, &common.PipelineError{
				Kind:   common.ErrAnalysisFailure,
				Stage:  stageAnalyze,
				Reason: fmt.Sprintf("unexpected operation status %q", op.Status),
			}
		}

		wait := c.cfg.PollInterval
		if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && ra > 0 {
			wait = time.Duration(ra) * time.Second
		}
		c.logger.Debug("analysis.poll", "status", op.Status, "polls", polls, "wait_ms", wait.Milliseconds())
		if err := pause(ctx, wait); err != nil {
			return nil, failure(err)
		}
	}
}

func (c *Client) start(ctx context.Context, modelID, documentURL string) (string, error) {
	endpoint := fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?api-version=%s",
		c.cfg.Endpoint, url.PathEscape(modelID), url.QueryEscape(c.cfg.APIVersion))

	resp, err := c.sender.Do(ctx, httpclient.Request{
		Name:    "analysis",
		Method:  http.MethodPost,
		URL:     endpoint,
		Body:    map[string]string{"urlSource": documentURL},
		Headers: c.headers(),
	})
	if err != nil {
		return "", failure(err)
	}
	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", &common.PipelineError{
			Kind:   common.ErrAnalysisFailure,
			Stage:  stageAnalyze,
			Status: resp.Status,
			Reason: "response has no Operation-Location header",
		}
	}
	return opURL, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Ocp-Apim-Subscription-Key": c.cfg.APIKey}
}

func failure(err error) error {
	pe := &common.PipelineError{Kind: common.ErrAnalysisFailure, Stage: stageAnalyze, Cause: err}
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		pe.Status = se.Status
		pe.Reason = se.Reason
	}
	return pe
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
