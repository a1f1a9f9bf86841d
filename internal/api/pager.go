package api

import (
	"context"
	"net/url"

	"github.com/goccy/go-json"
)

// page is the envelope of a list response. Fabric pages with continuation
// tokens; Power BI and Graph use OData next links.
type page struct {
	Value             []json.RawMessage `json:"value"`
	ContinuationToken string            `json:"continuationToken"`
	ContinuationURI   string            `json:"continuationUri"`
	NextLink          string            `json:"@odata.nextLink"`
}

// List walks every page of a list endpoint, calling fn with each page's items
func (c *Client) List(ctx context.Context, path string, query url.Values, fn func([]json.RawMessage) error) error {
	next := path
	nextQuery := query

	for next != "" {
		var p page
		if err := c.Get(ctx, next, nextQuery, &p); err != nil {
			return err
		}
		if err := fn(p.Value); err != nil {
			return err
		}

		switch {
		case p.ContinuationURI != "":
			next, nextQuery = p.ContinuationURI, nil
		case p.ContinuationToken != "":
			q := url.Values{}
			for k, v := range query {
				q[k] = v
			}
			q.Set("continuationToken", p.ContinuationToken)
			next, nextQuery = path, q
		case p.NextLink != "":
			next, nextQuery = p.NextLink, nil
		default:
			next = ""
		}
	}
	return nil
}

// ListAll collects every item of a list endpoint into a slice of T
func ListAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var items []T
	err := c.List(ctx, path, query, func(values []json.RawMessage) error {
		for _, raw := range values {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}
