package gitsync

import (
	"net/http"
	"net/http/httputil"

	"github.com/go-git/go-git/v5/plumbing/transport/client"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/windmill-git-sync/windmill-git-sync/internal/logging"
)

// LoggingTransport is an http.RoundTripper that logs request and response
// headers of the git smart HTTP protocol. Bodies hold pack data and are not
// dumped. The Authorization header is masked.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *logging.Logger
}

// NewLoggingTransport creates a new LoggingTransport. If transport is nil,
// http.DefaultTransport is used.
func NewLoggingTransport(transport http.RoundTripper, logger *logging.Logger) *LoggingTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LoggingTransport{
		Transport: transport,
		Logger:    logger,
	}
}

// InstallDebugTransport routes all git HTTPS traffic of the process through a
// LoggingTransport. It does not combine with custom CA bundles or skipped TLS
// verification, which require go-git's own transport.
func InstallDebugTransport(logger *logging.Logger) {
	c := githttp.NewClient(&http.Client{Transport: NewLoggingTransport(nil, logger)})
	client.InstallProtocol("https", c)
	client.InstallProtocol("http", c)
}

// RoundTrip executes a single HTTP transaction, logging the request and response.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	masked := req.Clone(req.Context())
	if masked.Header.Get("Authorization") != "" {
		masked.Header.Set("Authorization", "*******")
	}
	masked.URL.User = nil

	reqDump, err := httputil.DumpRequestOut(masked, false)
	if err != nil {
		t.Logger.Debugf("error dumping request: %v", err)
	} else {
		t.Logger.Debugf("git http request:\n%s", string(reqDump))
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.Logger.Debugf("git http request failed: %v", err)
		return resp, err
	}

	respDump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		t.Logger.Debugf("error dumping response: %v", err)
	} else {
		t.Logger.Debugf("git http response:\n%s", string(respDump))
	}

	return resp, nil
}
