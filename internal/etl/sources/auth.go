package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"mdsync/internal/etl"
)

// AcquireToken posts authData as a form to authURL and returns the value of
// key from the JSON response. Any failure is an AuthError.
func AcquireToken(ctx context.Context, client *http.Client, authURL string, authData map[string]string, key string) (string, error) {
	if authURL == "" {
		return "", etl.AuthError("acquire token", fmt.Errorf("auth_url is required"))
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	form := url.Values{}
	for k, v := range authData {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", etl.AuthError("acquire token", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", etl.AuthError("acquire token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", etl.AuthError("acquire token", fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", etl.AuthError("acquire token", fmt.Errorf("parse json: %w", err))
	}
	tok, ok := res[key]
	if !ok || tok == nil {
		return "", etl.AuthError("acquire token", fmt.Errorf("response has no %q", key))
	}
	s := fmt.Sprint(tok)
	if s == "" {
		return "", etl.AuthError("acquire token", fmt.Errorf("response %q is empty", key))
	}
	return s, nil
}
