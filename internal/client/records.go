package client

import (
	"context"
	"encoding/json"
	"net/http"
)

// Upsert implements upload.Applier.
func (c *Client) Upsert(ctx context.Context, table, id string, payload json.RawMessage) error {
	return c.doNoContent(ctx, requestConfig{
		method:      http.MethodPut,
		path:        "/api/v1/records/%s/%s",
		pathParams:  []string{table, id},
		rawBody:     payload,
		authed:      true,
		expectCodes: []int{http.StatusNoContent},
	})
}

// Patch implements upload.Applier.
func (c *Client) Patch(ctx context.Context, table, id string, payload json.RawMessage) error {
	return c.doNoContent(ctx, requestConfig{
		method:      http.MethodPatch,
		path:        "/api/v1/records/%s/%s",
		pathParams:  []string{table, id},
		rawBody:     payload,
		authed:      true,
		expectCodes: []int{http.StatusNoContent},
	})
}

// Delete implements upload.Applier.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.doNoContent(ctx, requestConfig{
		method:      http.MethodDelete,
		path:        "/api/v1/records/%s/%s",
		pathParams:  []string{table, id},
		authed:      true,
		expectCodes: []int{http.StatusNoContent},
	})
}
