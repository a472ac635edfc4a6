package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quayside/daybook/internal/tasklist"
	"github.com/quayside/daybook/internal/tasks"
)

// FeedState names the connection phase of the change feed.
type FeedState string

const (
	FeedDisconnected FeedState = "disconnected"
	FeedConnecting   FeedState = "connecting"
	FeedSubscribed   FeedState = "subscribed"
	FeedErrored      FeedState = "errored"
)

const (
	defaultFeedRetryInterval = 5 * time.Second
	heartbeatEventName       = "heartbeat"
)

// ErrMissingFeedClient reports a feed configured without an API client.
var ErrMissingFeedClient = errors.New("client: feed requires an api client")

// FeedConfig wires a Feed. OnEvent receives every decoded change event;
// OnState is invoked on each state transition. Both callbacks run on the
// feed's goroutine and must not block.
type FeedConfig struct {
	Client        *Client
	OnEvent       func(tasklist.Event)
	OnState       func(FeedState)
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// Feed consumes the server-sent task stream and keeps reconnecting until
// its context ends. It starts disconnected, reports connecting while the
// stream is being opened, subscribed once the stream is live, and errored
// between a drop and the next attempt.
type Feed struct {
	client        *Client
	onEvent       func(tasklist.Event)
	onState       func(FeedState)
	retryInterval time.Duration
	logger        *zap.Logger

	mu    sync.Mutex
	state FeedState
}

func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.Client == nil {
		return nil, ErrMissingFeedClient
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = defaultFeedRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		client:        cfg.Client,
		onEvent:       cfg.OnEvent,
		onState:       cfg.OnState,
		retryInterval: retry,
		logger:        logger,
		state:         FeedDisconnected,
	}, nil
}

// State returns the current connection phase.
func (f *Feed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Run drives the feed until ctx is cancelled. It always returns ctx's
// error and leaves the feed disconnected.
func (f *Feed) Run(ctx context.Context) error {
	for {
		f.setState(FeedConnecting)
		err := f.consume(ctx)
		if ctx.Err() != nil {
			f.setState(FeedDisconnected)
			return ctx.Err()
		}
		f.setState(FeedErrored)
		f.logger.Warn("task stream dropped", zap.Error(err))
		select {
		case <-ctx.Done():
			f.setState(FeedDisconnected)
			return ctx.Err()
		case <-time.After(f.retryInterval):
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	request, err := f.client.newRequest(ctx, http.MethodGet, "/tasks/stream", nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")

	response, err := f.client.streamClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return decodeAPIError(response)
	}

	f.setState(FeedSubscribed)

	reader := bufio.NewReader(response.Body)
	eventName := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			f.dispatch(eventName, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func (f *Feed) dispatch(eventName, data string) {
	if eventName == "" || eventName == heartbeatEventName {
		return
	}
	kind, err := tasklist.ParseEventKind(eventName)
	if err != nil {
		f.logger.Debug("ignoring unknown stream event", zap.String("event", eventName))
		return
	}
	var record tasks.Task
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		f.logger.Warn("failed to decode stream event payload",
			zap.String("event", eventName), zap.Error(err))
		return
	}
	if f.onEvent != nil {
		f.onEvent(tasklist.Event{Kind: kind, Task: record})
	}
}

func (f *Feed) setState(next FeedState) {
	f.mu.Lock()
	if f.state == next {
		f.mu.Unlock()
		return
	}
	f.state = next
	f.mu.Unlock()
	if f.onState != nil {
		f.onState(next)
	}
}
