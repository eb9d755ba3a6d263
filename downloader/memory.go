package downloader

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Memory serves canned payloads by URL. Provided for tests and for
// implementing custom Downloaders.
type Memory struct {
	mutex    sync.Mutex
	Feeds    map[string][]byte
	Requests []string
}

func NewMemory() *Memory {
	return &Memory{
		Feeds: map[string][]byte{},
	}
}

func (m *Memory) FetchFile(ctx context.Context, url, dest string, options FetchOptions) (int64, error) {
	body, err := m.Get(ctx, url, options)
	if err != nil {
		return 0, err
	}

	if err := os.WriteFile(dest, body, 0644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", dest, err)
	}

	return int64(len(body)), nil
}

func (m *Memory) Get(ctx context.Context, url string, options FetchOptions) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Requests = append(m.Requests, url)

	body, found := m.Feeds[url]
	if !found {
		return nil, fmt.Errorf("%w: no feed at %s", ErrNetwork, url)
	}

	return body, nil
}
