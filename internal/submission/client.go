// Package submission posts assembled survey answers to the survey API.
package submission

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/httpclient"
	"github.com/joseph-ayodele/survey-docparser/internal/survey"
)

const stageSubmit = "submit"

type Config struct {
	BaseURL string // payloads are posted to {BaseURL}/surveys
	Timeout time.Duration
	// Retry covers transport failures, 429 and 5xx only. Defaults to none.
	Retry httpclient.RetryPolicy
}

type Client struct {
	url     string
	timeout time.Duration
	sender  *httpclient.Sender
	logger  *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		url:     strings.TrimRight(cfg.BaseURL, "/") + "/surveys",
		timeout: cfg.Timeout,
		sender:  httpclient.New(httpClient, cfg.Retry, logger),
		logger:  logger,
	}
}

// Receipt describes an accepted submission.
type Receipt struct {
	Status int
	Body   []byte
}

// Submit posts one payload. Any non-2xx final response is an ErrSubmissionRejected
// carrying the status and reason phrase.
func (c *Client) Submit(ctx context.Context, payload survey.SubmissionPayload) (*Receipt, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.sender.Do(ctx, httpclient.Request{
		Name:   "submission",
		Method: http.MethodPost,
		URL:    c.url,
		Body:   payload,
	})
	if err != nil {
		pe := &common.PipelineError{Kind: common.ErrSubmissionRejected, Stage: stageSubmit, Cause: err}
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			pe.Status = se.Status
			pe.Reason = se.Reason
		}
		return nil, pe
	}
	c.logger.Info("submission.accepted",
		"survey_type_id", payload.SurveyTypeID,
		"answers", len(payload.Answers),
		"status", resp.Status,
	)
	return &Receipt{Status: resp.Status, Body: resp.Body}, nil
}
