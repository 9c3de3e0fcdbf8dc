package supabase

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gastos/internal/remote"
)

func restPath(collection string) string {
	return "/rest/v1/" + collection
}

// filterValues keeps only the row filters of q; writes ignore select,
// order and limit.
func filterValues(q remote.Query) url.Values {
	return remote.Query{Collection: q.Collection, Filters: q.Filters}.Values()
}

func (c *Client) Select(ctx context.Context, token string, q remote.Query, dest any) error {
	return c.do(ctx, request{
		method: http.MethodGet,
		path:   restPath(q.Collection),
		query:  q.Values(),
		token:  token,
	}, dest)
}

func (c *Client) Insert(ctx context.Context, token, collection string, row any, dest any) error {
	body, err := jsonBody(row)
	if err != nil {
		return err
	}
	r := request{
		method:      http.MethodPost,
		path:        restPath(collection),
		token:       token,
		body:        body,
		contentType: "application/json",
		headers:     map[string]string{"Prefer": "return=minimal"},
	}
	if dest != nil {
		r.headers["Prefer"] = "return=representation"
		r.headers["Accept"] = "application/vnd.pgrst.object+json"
	}
	return c.do(ctx, r, dest)
}

func (c *Client) Update(ctx context.Context, token string, q remote.Query, patch any, dest any) error {
	body, err := jsonBody(patch)
	if err != nil {
		return err
	}
	prefer := "return=minimal"
	if dest != nil {
		prefer = "return=representation"
	}
	return c.do(ctx, request{
		method:      http.MethodPatch,
		path:        restPath(q.Collection),
		query:       filterValues(q),
		token:       token,
		body:        body,
		contentType: "application/json",
		headers:     map[string]string{"Prefer": prefer},
	}, dest)
}

func (c *Client) Delete(ctx context.Context, token string, q remote.Query) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   restPath(q.Collection),
		query:  filterValues(q),
		token:  token,
	}, nil)
}

func objectPath(bucket, path string) string {
	return bucket + "/" + strings.Trim(path, "/")
}

func (c *Client) Upload(ctx context.Context, token, bucket, path string, body io.Reader, contentType string) error {
	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/storage/v1/object/" + objectPath(bucket, path),
		token:       token,
		body:        body,
		contentType: contentType,
		headers:     map[string]string{"Cache-Control": "max-age=3600", "x-upsert": "false"},
	}, nil)
}

func (c *Client) PublicURL(bucket, path string) string {
	return c.endpoint("/storage/v1/object/public/"+objectPath(bucket, path), nil)
}
