package aws

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// checkIPEndpoint returns the caller's public address as plain text.
const checkIPEndpoint = "https://checkip.amazonaws.com"

// CallerCIDR discovers the caller's public IPv4 address and returns it
// as a /32 block suitable for a firewall ingress rule.
func CallerCIDR(ctx context.Context) (string, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkIPEndpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build address lookup request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to discover public address: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("address lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", fmt.Errorf("failed to read address lookup response: %w", err)
	}

	addr := strings.TrimSpace(string(body))
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("address lookup returned %q, expected an IPv4 address", addr)
	}

	return ip.String() + "/32", nil
}
