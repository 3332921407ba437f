package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RemoteConfig configures the HTTP OTP service client
type RemoteConfig struct {
	BaseURL      string
	Organization string
	Subject      string
	Timeout      time.Duration
}

// RemoteProvider talks to the OTP service:
//
//	POST {base}/otp/generate {email, type, organization, subject}
//	POST {base}/otp/verify   {email, otp}
type RemoteProvider struct {
	cfg    RemoteConfig
	client *http.Client
	logger *slog.Logger
}

// NewRemoteProvider creates a client for the OTP service
func NewRemoteProvider(cfg RemoteConfig, logger *slog.Logger) *RemoteProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &RemoteProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type generateRequest struct {
	Email        string `json:"email"`
	Type         string `json:"type"`
	Organization string `json:"organization"`
	Subject      string `json:"subject"`
}

type verifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// serviceResponse covers the shapes the service answers with
type serviceResponse struct {
	Success  *bool          `json:"success"`
	Verified *bool          `json:"verified"`
	Message  string         `json:"message"`
	Error    string         `json:"error"`
	ID       string         `json:"id"`
	Data     map[string]any `json:"data"`
}

func (r *serviceResponse) handle() string {
	for _, key := range []string{"id", "otpId"} {
		if v, ok := r.Data[key].(string); ok && v != "" {
			return v
		}
	}
	return r.ID
}

func (r *serviceResponse) reason(fallback string) string {
	switch {
	case r.Error != "":
		return r.Error
	case r.Message != "":
		return r.Message
	default:
		return fallback
	}
}

// Generate asks the service to send a numeric code to email
func (p *RemoteProvider) Generate(ctx context.Context, email string) (string, error) {
	status, resp, err := p.post(ctx, "/otp/generate", generateRequest{
		Email:        email,
		Type:         "numeric",
		Organization: p.cfg.Organization,
		Subject:      p.cfg.Subject,
	})
	if err != nil {
		return "", err
	}

	ok := status >= 200 && status < 300 &&
		((resp.Success != nil && *resp.Success) || resp.Message != "" || resp.Data != nil)
	if !ok {
		p.logger.Warn("otp generate rejected", slog.Int("status", status), slog.String("reason", resp.reason("")))
		return "", &RejectedError{Message: resp.reason(DefaultGenerateFailure)}
	}
	return resp.handle(), nil
}

// Verify checks a code with the service
func (p *RemoteProvider) Verify(ctx context.Context, email, code string) (bool, string, error) {
	status, resp, err := p.post(ctx, "/otp/verify", verifyRequest{Email: email, OTP: code})
	if err != nil {
		return false, "", err
	}

	ok := status >= 200 && status < 300 &&
		((resp.Success != nil && *resp.Success) ||
			resp.Message == "OTP is verified" ||
			(resp.Verified != nil && *resp.Verified))
	if !ok {
		return false, resp.reason(DefaultRejectMessage), nil
	}
	return true, resp.Message, nil
}

// post sends body as JSON. Non-2xx answers with a JSON body are returned
// for the caller to interpret; unreachable services and unparseable answers
// are ErrTransport.
func (p *RemoteProvider) post(ctx context.Context, path string, body any) (int, *serviceResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode otp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var resp serviceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, nil, fmt.Errorf("%w: status %d, invalid body: %v", ErrTransport, res.StatusCode, err)
	}
	return res.StatusCode, &resp, nil
}
