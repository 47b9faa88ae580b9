// Package twilio sends SMS through the Twilio Messages REST API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.twilio.com"

// Client sends SMS messages.
type Client interface {
	SendSMS(ctx context.Context, from, to, body string) (*Message, error)
}

// Message is the accepted message resource.
type Message struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

// APIError is Twilio's error body together with the HTTP status.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: status %d code %d: %s", e.HTTPStatus, e.Code, e.Message)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
}

// NewClient creates a Twilio client authenticated with an account SID and
// auth token.
func NewClient(accountSID, authToken string, opts ...Option) Client {
	c := &httpClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultBaseURL,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SendSMS(ctx context.Context, from, to, body string) (*Message, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "twilio: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "twilio: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "twilio: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, apiErr
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, eris.Wrap(err, "twilio: unmarshal response")
	}
	return &msg, nil
}
