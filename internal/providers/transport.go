package providers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 15 * time.Second

// Response is a fully read provider HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (response Response) OK() bool {
	return response.Status >= 200 && response.Status <= 299
}

// DefaultHTTPClient returns client or a client with the package timeout.
func DefaultHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// PostForm sends a form-encoded POST. Network failures come back as transient ProviderErrors.
func PostForm(ctx context.Context, client *http.Client, provider string, operation string, endpoint string, form url.Values, header http.Header) (Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Response{}, err
	}
	for name, values := range header {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")
	return send(client, provider, operation, request)
}

// GetJSON sends a bearer-authenticated GET.
func GetJSON(ctx context.Context, client *http.Client, provider string, operation string, endpoint string, accessToken string) (Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Response{}, err
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Accept", "application/json")
	return send(client, provider, operation, request)
}

// StatusError builds a ProviderError from a non-2xx response.
func StatusError(provider string, operation string, response Response, code string, description string) *ProviderError {
	kind := ClassifyStatus(response.Status)
	if code != "" {
		kind = ClassifyOAuthError(response.Status, code)
	}
	if description == "" {
		description = strings.TrimSpace(string(response.Body))
		if len(description) > 200 {
			description = description[:200]
		}
	}
	return &ProviderError{
		Provider:    provider,
		Operation:   operation,
		Status:      response.Status,
		Code:        code,
		Description: description,
		Kind:        kind,
		RetryAfter:  ParseRetryAfter(response.Header.Get("Retry-After")),
	}
}

func send(client *http.Client, provider string, operation string, request *http.Request) (Response, error) {
	httpResponse, err := DefaultHTTPClient(client).Do(request)
	if err != nil {
		return Response{}, TransportError(provider, operation, err)
	}
	defer httpResponse.Body.Close()

	body, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return Response{}, TransportError(provider, operation, readErr)
	}
	return Response{
		Status: httpResponse.StatusCode,
		Header: httpResponse.Header,
		Body:   body,
	}, nil
}
