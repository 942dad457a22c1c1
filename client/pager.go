package client

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/kolah/disco/discovery"
)

// ErrStopPaging may be returned by a Pages callback to end iteration early
// without an error.
var ErrStopPaging = errors.New("stop paging")

const (
	pageTokenParam     = "pageToken"
	nextPageTokenField = "nextPageToken"
)

// Pages calls the method repeatedly, passing each response's nextPageToken
// back as pageToken, until a response carries no token or fn returns an
// error.
func (c *Client) Pages(ctx context.Context, path string, args discovery.Args, fn func(*Response) error, opts ...discovery.CallOption) error {
	args = maps.Clone(args)
	if args == nil {
		args = discovery.Args{}
	}
	for {
		resp, err := c.Call(ctx, path, args, opts...)
		if err != nil {
			return err
		}
		if err := fn(resp); err != nil {
			if errors.Is(err, ErrStopPaging) {
				return nil
			}
			return err
		}
		next := nextPageToken(resp.Data)
		if next == "" {
			return nil
		}
		if prev, _ := args[pageTokenParam].(string); prev == next {
			return fmt.Errorf("%s: server returned the same page token twice", path)
		}
		args[pageTokenParam] = next
	}
}

func nextPageToken(data any) string {
	obj, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	token, _ := obj[nextPageTokenField].(string)
	return token
}
