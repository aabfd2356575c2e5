package ipc

import "context"

// Notifier emits a JSON-RPC notification (no id) on the same connection a
// request arrived on, ahead of that request's final response. add_account
// uses this to hand the operator an authorization URL or device code
// mid-flight, the way §4.4's "hand the URL to the initiator" step requires
// even though the outer RPC is a single blocking call.
type Notifier func(method string, params interface{})

type notifierKey struct{}

func withNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

func notifierFromContext(ctx context.Context) Notifier {
	if n, ok := ctx.Value(notifierKey{}).(Notifier); ok && n != nil {
		return n
	}
	return func(string, interface{}) {}
}
