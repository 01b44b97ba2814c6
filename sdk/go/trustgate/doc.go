// Package trustgate provides in-process access control for Go agents that
// accept requests from other parties. Every request is signed by its
// sender; the engine checks the signature, looks up the sender's trust
// level and decides from a policy document, asking a reasoning fallback
// only when the rules say so.
//
// Usage:
//
//	tg, err := trustgate.New(
//	    trustgate.WithPreset("careful"),
//	    trustgate.WithListDir("/var/lib/agent/lists"),
//	    trustgate.WithSelf(ownerIdentity),
//	)
//	defer tg.Close()
//	handle := tg.Wrap(func(ctx context.Context, req trustgate.Request) (any, error) {
//	    return answer(req.Payload.Body), nil
//	})
//	out, err := handle(ctx, signedRequest)
//
// The SDK links directly against internal packages. External users import
// github.com/ppiankov/trustgate/sdk/go/trustgate.
package trustgate
