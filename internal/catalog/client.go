// Package catalog fetches the canonical question list for a survey type.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/httpclient"
	"github.com/joseph-ayodele/survey-docparser/internal/survey"
	"github.com/joseph-ayodele/survey-docparser/internal/validate"
)

const stageCatalog = "catalog"

type Config struct {
	BaseURL string // questions are read from {BaseURL}/surveyquestions/{label}
	Timeout time.Duration
	Retry   httpclient.RetryPolicy
}

// Client is the QuestionCatalogClient.
type Client struct {
	baseURL string
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
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		sender:  httpclient.New(httpClient, cfg.Retry, logger),
		logger:  logger,
	}
}

var questionsSchema = validate.MustCompile("survey_questions", map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"anyOf": []any{
			map[string]any{"required": []string{"questionText"}},
			map[string]any{"required": []string{"QuestionText"}},
		},
	},
})

// wireQuestion accepts both the questionId and surveyQuestionId spellings.
type wireQuestion struct {
	QuestionID       int    `json:"questionId"`
	SurveyQuestionID int    `json:"surveyQuestionId"`
	QuestionText     string `json:"questionText"`
}

// Fetch returns the ordered catalog for the raw survey type label. A non-2xx
// response is an ErrCatalogFetchFailure, never an empty catalog.
func (c *Client) Fetch(ctx context.Context, label string) (survey.Catalog, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.sender.Do(ctx, httpclient.Request{
		Name:   "catalog",
		Method: http.MethodGet,
		URL:    c.baseURL + "/surveyquestions/" + url.PathEscape(label),
	})
	if err != nil {
		pe := &common.PipelineError{Kind: common.ErrCatalogFetchFailure, Stage: stageCatalog, SurveyType: label, Cause: err}
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			pe.Status = se.Status
			pe.Reason = se.Reason
		}
		c.logger.Error("catalog.fetch.failed", "survey_type", label, "status", pe.Status, "error", err)
		return nil, pe
	}

	if err := questionsSchema.Bytes(resp.Body); err != nil {
		return nil, &common.PipelineError{Kind: common.ErrCatalogFetchFailure, Stage: stageCatalog, SurveyType: label, Status: resp.Status, Cause: err}
	}
	var wire []wireQuestion
	if err := httpclient.DecodeJSON(resp, &wire); err != nil {
		return nil, &common.PipelineError{Kind: common.ErrCatalogFetchFailure, Stage: stageCatalog, SurveyType: label, Status: resp.Status, Cause: err}
	}

	out := make(survey.Catalog, 0, len(wire))
	for _, w := range wire {
		id := w.QuestionID
		if id == 0 {
			id = w.SurveyQuestionID
		}
		out = append(out, survey.QuestionRecord{QuestionID: id, QuestionText: w.QuestionText})
	}
	c.logger.Info("catalog.fetch.ok", "survey_type", label, "questions", len(out))
	return out, nil
}
