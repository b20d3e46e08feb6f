package adapters

import (
	"context"
	"net/url"
	"strings"
)

// MediaClient implements ports.MediaFetcher by reading objects from the
// media store's HTTP endpoint.
type MediaClient struct {
	client *Client
}

func NewMediaClient(client *Client) *MediaClient {
	return &MediaClient{client: client}
}

func (m *MediaClient) Fetch(ctx context.Context, ref string) ([]byte, error) {
	segments := strings.Split(strings.TrimLeft(ref, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return m.client.get(ctx, "/"+strings.Join(segments, "/"))
}
