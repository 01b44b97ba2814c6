package trustgate

import "context"

// HandlerFunc serves a request that has been allowed.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Wrap returns a HandlerFunc that decides req before calling fn. A refused
// request returns a *DeniedError without calling fn.
func (c *Client) Wrap(fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req Request) (any, error) {
		d, err := c.Decide(ctx, req)
		if err != nil {
			return nil, err
		}
		if !d.Allow {
			return nil, &DeniedError{Identity: req.From, Decision: d}
		}
		return fn(ctx, req)
	}
}
