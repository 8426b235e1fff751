package rtcconfig

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// FetchREST performs a single GET against the credential web service and
// parses the returned descriptor. The username is passed in the header
// named by authHeaderName (coturn-web convention). A response status of 400
// or above, or an empty body, returns a *FetchError.
func FetchREST(ctx context.Context, client *http.Client, baseURI, username, authHeaderName string) (*RTCConfig, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURI, nil)
	if err != nil {
		return nil, fmt.Errorf("building rtc config request: %w", err)
	}
	req.Header.Set(authHeaderName, username)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching rtc config: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading rtc config response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &FetchError{
			Status: resp.StatusCode,
			Reason: resp.Status,
			Body:   string(body),
		}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, &FetchError{
			Status: resp.StatusCode,
			Reason: "empty response body",
		}
	}
	return Parse(body)
}
