package notification

import "context"

// Sender abstracts the channel transport (SMTP client, SMS gateway, push
// provider, in-app store). The engine treats all channels uniformly through
// this interface; channel-specific formatting and validation live inside the
// adapter. A send is fire-to-completion: there is no mid-flight cancellation,
// callers bound the invocation with a context deadline instead.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SenderFunc adapts a plain function to the Sender interface.
type SenderFunc func(ctx context.Context, n Notification) error

func (f SenderFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
