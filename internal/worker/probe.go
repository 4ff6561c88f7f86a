package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderPlaceholder is replaced by the provider name in probe URL templates.
const ProviderPlaceholder = "{provider}"

// HTTPProbe returns a ProbeFunc that GETs the template URL for a provider.
// Any transport error or a 5xx response counts as a failure.
func HTTPProbe(client *http.Client, urlTemplate string) ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return func(ctx context.Context, provider string) (ProbeResult, error) {
		url := strings.ReplaceAll(urlTemplate, ProviderPlaceholder, provider)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("failed to build probe request: %w", err)
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("probe %s: %w", provider, err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		result := ProbeResult{StatusCode: resp.StatusCode, Latency: time.Since(start)}
		if resp.StatusCode >= http.StatusInternalServerError {
			return result, fmt.Errorf("probe %s: status %d", provider, resp.StatusCode)
		}

		return result, nil
	}
}
