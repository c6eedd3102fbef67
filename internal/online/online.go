// Package online reports connectivity to the back-office server. The
// managers consult a Detector before spending their online-attempt timeout
// on a link that is known to be down.
package online

import (
	"context"
	"net/http"
	"time"
)

type Detector interface {
	Online(ctx context.Context) bool
}

// Always reports the link as up, leaving failure detection entirely to the
// bounded online attempt. Used in tests and when no probe URL is configured.
type Always struct{}

func (Always) Online(context.Context) bool { return true }

// HTTPProbe declares the connection up when a HEAD to the probe URL answers
// at all; any status code counts, only transport failure counts as down.
type HTTPProbe struct {
	url    string
	client *http.Client
}

func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProbe{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProbe) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
