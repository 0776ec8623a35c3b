// Package sourcetest provides an in-memory Requester for parser tests.
package sourcetest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/JakeFAU/kr-car-crawler/internal/dispatcher"
)

// Requester answers requests from canned responses keyed by URL. Unknown URLs
// behave like a request whose attempts were exhausted.
type Requester struct {
	mu        sync.Mutex
	responses map[string]*dispatcher.Response
	requests  []dispatcher.Request
}

// NewRequester returns an empty Requester.
func NewRequester() *Requester {
	return &Requester{responses: make(map[string]*dispatcher.Response)}
}

// Handle registers a 200 response with the given content type.
func (r *Requester) Handle(rawURL, contentType string, body []byte) {
	r.HandleStatus(rawURL, http.StatusOK, contentType, body)
}

// HandleHTML registers a UTF-8 HTML page.
func (r *Requester) HandleHTML(rawURL, body string) {
	r.Handle(rawURL, "text/html; charset=utf-8", []byte(body))
}

// HandleJSON registers a JSON body.
func (r *Requester) HandleJSON(rawURL, body string) {
	r.Handle(rawURL, "application/json", []byte(body))
}

// HandleStatus registers a response with an explicit status code.
func (r *Requester) HandleStatus(rawURL string, status int, contentType string, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[rawURL] = &dispatcher.Response{
		URL:        rawURL,
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {contentType}},
		Body:       body,
	}
}

// Do implements source.Requester.
func (r *Requester) Do(ctx context.Context, req dispatcher.Request) (*dispatcher.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	resp, ok := r.responses[req.URL]
	if !ok {
		return nil, fmt.Errorf("%w: no canned response for %s", dispatcher.ErrExhausted, req.URL)
	}
	return resp, nil
}

// Requests returns a copy of every request received.
func (r *Requester) Requests() []dispatcher.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatcher.Request(nil), r.requests...)
}

// Count returns how many requests hit rawURL.
func (r *Requester) Count(rawURL string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.requests {
		if req.URL == rawURL {
			n++
		}
	}
	return n
}
