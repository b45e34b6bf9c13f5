package client

import (
	"time"

	"github.com/go-resty/resty/v2"
)

type client struct {
	restyClient       *resty.Client
	transferClient    *resty.Client
	apiKey            string
	processingTimeout time.Duration
}

var _ Client = (*client)(nil)

type Option func(*client)

func WithBaseURL(baseURL string) Option {
	return func(c *client) {
		if baseURL != "" {
			c.restyClient.SetBaseURL(baseURL)
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *client) {
		if timeout > 0 {
			c.restyClient.SetTimeout(timeout)
		}
	}
}

func WithAPIKey(apiKey string) Option {
	return func(c *client) {
		c.apiKey = apiKey
		if apiKey != "" {
			c.restyClient.SetAuthToken(apiKey)
		}
	}
}

// WithRestyClient allows callers to provide a preconfigured API client.
func WithRestyClient(restyClient *resty.Client) Option {
	return func(c *client) {
		if restyClient != nil {
			c.restyClient = restyClient
			if c.apiKey != "" {
				c.restyClient.SetAuthToken(c.apiKey)
			}
		}
	}
}

// WithTransferClient overrides the client used for upload targets and result URLs.
// It never carries the API bearer token.
func WithTransferClient(transfer *resty.Client) Option {
	return func(c *client) {
		if transfer != nil {
			c.transferClient = transfer
		}
	}
}

// WithProcessingTimeout sets the default wait budget used when a poll policy has none.
func WithProcessingTimeout(timeout time.Duration) Option {
	return func(c *client) {
		if timeout > 0 {
			c.processingTimeout = timeout
		}
	}
}

func NewClient(opts ...Option) Client {
	c := &client{
		restyClient:       newDefaultAPIClient(),
		processingTimeout: ProcessingTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.restyClient == nil {
		c.restyClient = newDefaultAPIClient()
	}

	if c.transferClient == nil {
		c.transferClient = newTransferClient()
	}

	return c
}

// Name returns the service name.
func (c *client) Name() string {
	return ServiceName
}

// Version returns the API version.
func (c *client) Version() string {
	return APIVersion
}

// Authenticated reports whether an API key is configured.
func (c *client) Authenticated() bool {
	return c.apiKey != ""
}

// Job creation is not idempotent, so neither client retries on its own.
func newDefaultAPIClient() *resty.Client {
	return resty.New().
		SetBaseURL(DefaultBaseURL).
		SetTimeout(DefaultTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
}

// Transfers are bounded per request by context deadlines, see withDefaultTimeout.
func newTransferClient() *resty.Client {
	return resty.New().
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
}
