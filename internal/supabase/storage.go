package supabase

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

func objectPath(bucket, path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

// Upload stores body under path in bucket. Existing objects are not
// overwritten.
func (c *Client) Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/storage/v1/object/" + objectPath(bucket, path),
		body:        body,
		contentType: contentType,
		header: http.Header{
			"Cache-Control": {"max-age=3600"},
			"X-Upsert":      {"false"},
		},
	}, nil)
}

// PublicURL is where an object in a public bucket can be fetched. No request
// is made.
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + "/storage/v1/object/public/" + objectPath(bucket, path)
}
