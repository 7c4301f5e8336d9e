// Copyright 2023 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apk

import (
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultHTTPClient returns a client that retries transient failures with
// exponential backoff and logs retries through the default slog logger.
func DefaultHTTPClient() *http.Client {
	return NewHTTPClient(http.DefaultTransport)
}

// NewHTTPClient is DefaultHTTPClient on top of the given transport.
func NewHTTPClient(rt http.RoundTripper) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = slog.Default()
	client.HTTPClient = &http.Client{Transport: rt}
	return client.StandardClient()
}

// UserAgentTransport sets the User-Agent header on every request.
type UserAgentTransport struct {
	UserAgent string
	Transport http.RoundTripper
}

func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.UserAgent)
	rt := t.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(req)
}
