package httpclient

import (
	"net/http"
	"time"

	"github.com/wdonsong/huntly/internal/logging"
)

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

// New builds an HTTP client with the given timeout whose transport logs
// request outcomes at debug level.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   http.DefaultTransport,
			logger: logging.OrNop(logger),
		},
	}
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(started)
	if err != nil {
		t.logger.Debug("http %s %s failed after %s: %v", req.Method, req.URL, elapsed, err)
		return nil, err
	}
	t.logger.Debug("http %s %s -> %d in %s", req.Method, req.URL, resp.StatusCode, elapsed)
	return resp, nil
}
