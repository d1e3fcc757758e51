package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwitterVerification checks a verification code against a handle's recent posts using the
// bearer-token-authenticated search endpoint. There is no Twitter client library elsewhere in
// this module's dependency pack, so a small net/http caller is used directly, the same way the
// source module reaches for net/http for one-off external calls instead of pulling in a
// dedicated SDK.
type TwitterVerification struct {
	bearerToken string
	httpClient  *http.Client
	baseURL     string
}

// NewTwitterVerification creates a verifier backed by the Twitter/X recent-search API.
func NewTwitterVerification(bearerToken string, timeout time.Duration) *TwitterVerification {
	return &TwitterVerification{
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     "https://api.twitter.com/2/tweets/search/recent",
	}
}

type twitterSearchResponse struct {
	Data []struct {
		Text string `json:"text"`
	} `json:"data"`
}

// Verify searches handle's recent posts for code and reports whether a matching post exists.
func (v *TwitterVerification) Verify(ctx context.Context, handle, code string) (bool, string, error) {
	query := fmt.Sprintf("from:%s %s", handle, code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"?query="+url.QueryEscape(query), nil)
	if err != nil {
		return false, "", fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.bearerToken)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrExternalUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("%w: status %d", ErrExternalUnavailable, resp.StatusCode)
	}

	var parsed twitterSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, "", fmt.Errorf("decode verification response: %w", err)
	}

	for _, post := range parsed.Data {
		if strings.Contains(post.Text, code) {
			return true, handle, nil
		}
	}
	return false, "", nil
}
