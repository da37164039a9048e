package graphql

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// createResponseSchema is what a usable createTemplate answer must look like.
const createResponseSchema = `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {
      "type": "object",
      "required": ["createTemplate"],
      "properties": {
        "createTemplate": {
          "type": "object",
          "required": ["template"],
          "properties": {
            "template": {
              "type": "object",
              "required": ["id"],
              "properties": {
                "id": {"type": ["string", "integer"], "minLength": 1},
                "status": {"type": ["string", "null"]}
              }
            }
          }
        }
      }
    }
  }
}`

var createSchema = jsonschema.MustCompileString("create_template_response.json", createResponseSchema)

// Config contains client configuration.
type Config struct {
	// URL of the GraphQL endpoint
	URL string

	// Timeout for each HTTP request
	Timeout time.Duration

	// Headers added to every request
	Headers map[string]string

	// MaxRPS caps the total request rate across all callers (0 = unlimited)
	MaxRPS float64

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited)
	MaxConnsPerHost int

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// Defaults applied by NewClient to unset fields.
const (
	DefaultTimeout             = 10 * time.Second
	DefaultMaxIdleConnsPerHost = 1000
)

func (cfg Config) withDefaults() Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	return cfg
}

// Client issues createTemplate and getTemplate calls.
//
// A single Client is shared by every virtual user so that connections are
// pooled.
type Client struct {
	url     string
	headers map[string]string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client with a pooled transport built from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("graphql: endpoint URL is required")
	}
	cfg = cfg.withDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 0
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	transport.MaxConnsPerHost = cfg.MaxConnsPerHost
	transport.IdleConnTimeout = 90 * time.Second
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return NewClientWithHTTP(cfg, &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}), nil
}

// NewClientWithHTTP creates a client that sends through hc.
func NewClientWithHTTP(cfg Config, hc *http.Client) *Client {
	c := &Client{
		url:     cfg.URL,
		headers: cfg.Headers,
		http:    hc,
	}
	if cfg.MaxRPS > 0 {
		burst := int(cfg.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}
	return c
}

// CreateTemplate submits a new template. A response without an id is a
// ProtocolError.
func (c *Client) CreateTemplate(ctx context.Context, in CreateTemplateInput) (*Template, error) {
	body, err := c.do(ctx, OpCreateTemplate, request[createTemplateVariables]{
		Query:     createTemplateQuery,
		Variables: createTemplateVariables{In: in},
	})
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &ProtocolError{Op: OpCreateTemplate, Reason: "invalid JSON: " + err.Error()}
	}
	if err := createSchema.Validate(doc); err != nil {
		reason := "unexpected payload"
		if msg := gjson.GetBytes(body, "data.createTemplate.message"); msg.Exists() && msg.String() != "" {
			reason = msg.String()
		}
		return nil, &ProtocolError{Op: OpCreateTemplate, Reason: reason + ": " + err.Error()}
	}

	tpl := gjson.GetBytes(body, "data.createTemplate.template")
	return &Template{
		ID:     tpl.Get("id").String(),
		Status: tpl.Get("status").String(),
		ZipURL: tpl.Get("zipUrl").String(),
	}, nil
}

// GetTemplate reads the current status of a template. Missing fields are
// not an error; the returned Template then has an empty Status.
func (c *Client) GetTemplate(ctx context.Context, id string) (*Template, error) {
	body, err := c.do(ctx, OpGetTemplate, request[getTemplateVariables]{
		Query:     getTemplateQuery,
		Variables: getTemplateVariables{ID: id},
	})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, &ProtocolError{Op: OpGetTemplate, Reason: "invalid JSON"}
	}

	tpl := gjson.GetBytes(body, "data.getTemplate.template")
	return &Template{
		ID:     id,
		Status: tpl.Get("status").String(),
		ZipURL: tpl.Get("zipUrl").String(),
	}, nil
}

// do sends one request and returns the body of a 2xx response without
// GraphQL errors.
func (c *Client) do(ctx context.Context, op string, payload interface{}) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProtocolError{Op: op, StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	if errs := gjson.GetBytes(body, "errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return nil, &ProtocolError{Op: op, StatusCode: resp.StatusCode, Reason: errs.Array()[0].Get("message").String()}
	}

	return body, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
