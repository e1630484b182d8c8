package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-recorder/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsRetryDelays are the pauses between robots.txt attempts that time out.
var robotsRetryDelays = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// robotsGuard is a RoundTripper used for one visit when robots.txt is honored.
// A robots.txt fetch that keeps timing out is answered with allow-all so a
// slow host does not turn into a failed crawl; the visit is then annotated
// as unverified.
type robotsGuard struct {
	next       http.RoundTripper
	delays     []time.Duration
	unverified bool
}

func newRobotsGuard(next http.RoundTripper) *robotsGuard {
	return &robotsGuard{next: next, delays: robotsRetryDelays}
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("round trip %s: %w", req.URL, err)
		}
		return resp, nil
	}

	for attempt := 0; ; attempt++ {
		resp, err := g.next.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil:
			return resp, nil
		case !isTimeout(err):
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		case attempt == len(g.delays):
			g.unverified = true
			metrics.ObserveRobotsFallback()
			return allowAll(req), nil
		}

		select {
		case <-req.Context().Done():
			return nil, fmt.Errorf("fetch robots.txt: %w", req.Context().Err())
		case <-time.After(g.delays[attempt]):
		}
	}
}

// annotate marks metadata when robots.txt could not be read.
func (g *robotsGuard) annotate(meta map[string]any) {
	if g == nil || !g.unverified || meta == nil {
		return
	}
	meta["robotsStatus"] = "indeterminate"
	meta["robotsReason"] = "TLS handshake timeout"
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
