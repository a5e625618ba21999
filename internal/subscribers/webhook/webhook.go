package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 1 << 20
)

type Option func(*Subscriber)

// Subscriber forwards published protocol events to an HTTP endpoint.
type Subscriber struct {
	name       string
	URL        string
	httpClient *http.Client
	logger     *log.Logger
	filter     func(types.EventType) bool
}

func New(name string, url string, logger *log.Logger, opts ...Option) *Subscriber {
	sub := &Subscriber{
		name:       strings.TrimSpace(name),
		URL:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	if sub.name == "" {
		sub.name = "webhook"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}
	return sub
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Subscriber) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithEventFilter(filter func(types.EventType) bool) Option {
	return func(s *Subscriber) {
		s.filter = filter
	}
}

func (s *Subscriber) Name() string {
	return s.name
}

func (s *Subscriber) Handle(ctx context.Context, event types.EventEnvelope) error {
	if s.filter != nil && !s.filter(event.EventType) {
		return nil
	}
	if s.URL == "" {
		return fmt.Errorf("webhook %s has no url", s.name)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return fmt.Errorf("webhook %s returned status %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
