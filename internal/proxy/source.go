package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Source yields candidate proxy addresses.
type Source interface {
	Fetch(ctx context.Context) ([]string, error)
	Name() string
}

// FileSource reads one address per line. Blank lines and lines starting
// with '#' are skipped.
type FileSource struct {
	Path string
}

// Name returns a label for logging
func (s FileSource) Name() string { return "file:" + s.Path }

// Fetch reads the file
func (s FileSource) Fetch(ctx context.Context) ([]string, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer file.Close()

	var addresses []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addresses = append(addresses, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}

	return addresses, nil
}

// HTTPSource fetches a JSON array of proxies from an API. Each element is
// either {"proxy": "ip:port"} or {"ip": "...", "port": 8080}.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Name returns a label for logging
func (s HTTPSource) Name() string { return "api:" + s.URL }

type apiProxy struct {
	Proxy string          `json:"proxy"`
	IP    string          `json:"ip"`
	Port  json.RawMessage `json:"port"`
}

// Fetch queries the API
func (s HTTPSource) Fetch(ctx context.Context) ([]string, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy API request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy API returned status %d", resp.StatusCode)
	}

	var items []apiProxy
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode proxy API response: %w", err)
	}

	addresses := make([]string, 0, len(items))
	for _, item := range items {
		if item.Proxy != "" {
			addresses = append(addresses, item.Proxy)
			continue
		}
		if item.IP != "" && len(item.Port) > 0 {
			port := strings.Trim(string(item.Port), `"`)
			addresses = append(addresses, item.IP+":"+port)
		}
	}

	return addresses, nil
}
