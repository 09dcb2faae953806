package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// the caller's request must not be modified
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// UserAgent is sent with every outbound request made by HTTPClient.
func UserAgent() string {
	return "FacilityEnergy/" + strings.TrimSpace(version)
}

// HTTPClient returns an http client that identifies itself with UserAgent.
// It is used for the OIDC discovery and key fetches.
func HTTPClient(timeout time.Duration) *http.Client {
	userAgent := UserAgent()

	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: userAgent,
		},
		Timeout: timeout,
	}
}
