package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	kiterr "github.com/c0deZ3R0/go-rental-sync/errors"
)

// Event is one server-sent event as received by a Client.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Client consumes a push stream.
type Client struct {
	URL    string
	Client *http.Client
}

// NewClient creates a new SSE client for the stream at streamURL.
func NewClient(streamURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		URL:    streamURL,
		Client: httpClient,
	}
}

// Subscribe opens the stream joined to topics and calls handler for every
// event until ctx is done, the server ends the stream or handler fails.
// It returns ctx.Err() once ctx is done.
func (c *Client) Subscribe(ctx context.Context, topics []string, handler func(Event) error) error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return kiterr.E(kiterr.Operation("sse.Subscribe"), kiterr.Component("transport/sse"), kiterr.KindInvalid, err, "parse url")
	}
	q := u.Query()
	for _, t := range topics {
		q.Add("topic", t)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return kiterr.E(kiterr.Operation("sse.Subscribe"), kiterr.Component("transport/sse"), err, "new request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return kiterr.WrapOpComponentKind(err, "sse.Subscribe", "transport/sse", kiterr.KindUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return kiterr.E(kiterr.Operation("sse.Subscribe"), kiterr.Component("transport/sse"), kiterr.KindUnavailable,
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var ev Event
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 10<<20) // allow large lines
	for sc.Scan() {
		line := sc.Bytes()
		switch {
		case len(line) == 0:
			if ev.Name != "" || ev.Data != nil {
				if err := handler(ev); err != nil {
					return kiterr.E(kiterr.Operation("sse.Subscribe"), kiterr.Component("transport/sse"), err, "handler")
				}
			}
			ev = Event{}
		case bytes.HasPrefix(line, []byte(":")):
		case bytes.HasPrefix(line, []byte("event: ")):
			ev.Name = string(bytes.TrimPrefix(line, []byte("event: ")))
		case bytes.HasPrefix(line, []byte("data: ")):
			ev.Data = append(json.RawMessage(nil), bytes.TrimPrefix(line, []byte("data: "))...)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return kiterr.WrapOpComponentKind(sc.Err(), "sse.Subscribe", "transport/sse", kiterr.KindUnavailable)
}
