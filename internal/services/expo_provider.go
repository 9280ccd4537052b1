package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/CyberwizD/expo-push/internal/models"
)

const (
	// DefaultExpoEndpoint is the push service send endpoint.
	DefaultExpoEndpoint = "https://exp.host/--/api/v2/push/send"
	// DefaultSendRate stays below the push service limit of 600 notifications per second.
	DefaultSendRate = 500
)

type ExpoOptions struct {
	// AccessToken enables authenticated sends when the project requires them.
	AccessToken string
	Endpoint    string
	Timeout     time.Duration
	RatePerSec  int
	Transport   http.RoundTripper
}

// ExpoProvider sends notifications through the push service HTTP API.
// Failed sends are reported, never retried.
type ExpoProvider struct {
	endpoint string
	client   *resty.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewExpoProvider(opts ExpoOptions, logger *slog.Logger) *ExpoProvider {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultExpoEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = DefaultSendRate
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("Accept-Encoding", "gzip, deflate").
		SetHeader("Content-Type", "application/json")
	if opts.Transport != nil {
		rc.SetTransport(opts.Transport)
	}
	if opts.AccessToken != "" {
		rc.SetAuthToken(opts.AccessToken)
	}

	return &ExpoProvider{
		endpoint: opts.Endpoint,
		client:   rc,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		logger:   logger,
	}
}

func (p *ExpoProvider) Name() string {
	return "expo"
}

func (p *ExpoProvider) Send(ctx context.Context, payload *PushPayload) ([]models.PushResult, error) {
	if payload == nil || len(payload.Messages) == 0 {
		return nil, fmt.Errorf("%w: no messages supplied", models.ErrSend)
	}
	for _, msg := range payload.Messages {
		if msg.To == "" {
			return nil, fmt.Errorf("%w: message without recipient", models.ErrSend)
		}
	}

	for range payload.Messages {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrSend, err)
		}
	}

	// A single message is posted as an object, several as an array.
	var body interface{} = payload.Messages
	if len(payload.Messages) == 1 {
		body = payload.Messages[0]
	}

	p.logger.Debug("sending push message",
		slog.Int("messages", len(payload.Messages)),
		slog.Bool("use_fcm_v1", payload.UseFCMv1),
	)

	var out expoResponse
	res, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("useFcmV1", strconv.FormatBool(payload.UseFCMv1)).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSend, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: received status %d%s", models.ErrSend, res.StatusCode(), out.errorSummary())
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("%w: request rejected%s", models.ErrSend, out.errorSummary())
	}

	tickets, err := out.tickets()
	if err != nil {
		return nil, fmt.Errorf("%w: decode tickets: %v", models.ErrSend, err)
	}

	results := make([]models.PushResult, 0, len(tickets))
	for idx, ticket := range tickets {
		token := ""
		if idx < len(payload.Messages) {
			token = payload.Messages[idx].To
		}
		result := models.PushResult{
			Token:    token,
			Provider: p.Name(),
			Status:   models.ResultAccepted,
			TicketID: ticket.ID,
		}
		if ticket.Status != "ok" {
			result.Status = models.ResultFailed
			result.Error = ticket.ErrorCode()
		}
		results = append(results, result)
	}

	return results, nil
}

type expoResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []expoError     `json:"errors"`
}

type expoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// tickets decodes data, which is an object for a single message and an
// array otherwise.
func (r expoResponse) tickets() ([]models.PushTicket, error) {
	raw := bytes.TrimSpace(r.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var tickets []models.PushTicket
		if err := json.Unmarshal(raw, &tickets); err != nil {
			return nil, err
		}
		return tickets, nil
	}
	var ticket models.PushTicket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, err
	}
	return []models.PushTicket{ticket}, nil
}

func (r expoResponse) errorSummary() string {
	if len(r.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Code+": "+e.Message)
	}
	return " (" + strings.Join(parts, "; ") + ")"
}
