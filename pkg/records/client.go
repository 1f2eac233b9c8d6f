package records

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public JSONPlaceholder API.
const DefaultBaseURL = "https://jsonplaceholder.typicode.com"

type ClientConfig struct {
	// Base URL of the API. DefaultBaseURL is used if empty.
	BaseURL string
	// Timeout of a single request. Defaults to 10 seconds.
	Timeout time.Duration
	// HTTP client to use. A client with Timeout is created if nil.
	HTTPClient *http.Client
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Client is a Source backed by HTTP requests.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        zerolog.Logger
}

var _ Source = (*Client)(nil)

// NewClient creates a client for the API at config.BaseURL.
func NewClient(config ClientConfig) (*Client, error) {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	rawURL := config.BaseURL
	if rawURL == "" {
		rawURL = DefaultBaseURL
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		log: logger.With().
			Str("source", baseURL.String()).
			Logger(),
	}, nil
}

func (c *Client) Posts(ctx context.Context) ([]Post, error) {
	var posts []Post
	err := c.get(ctx, "posts", &posts)
	return posts, err
}

func (c *Client) Post(ctx context.Context, id int) (Post, error) {
	var post Post
	err := c.get(ctx, "posts/"+strconv.Itoa(id), &post)
	return post, err
}

func (c *Client) User(ctx context.Context, id int) (User, error) {
	var user User
	err := c.get(ctx, "users/"+strconv.Itoa(id), &user)
	return user, err
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", u, err)
	}
	defer res.Body.Close()
	c.log.Debug().
		Str("url", u.String()).
		Int("status", res.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Requested records from source")

	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("GET %s: %w", u, ErrNotFound)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return &StatusError{URL: u.String(), StatusCode: res.StatusCode}
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}
