package system

import "context"

// Service is a background component owned by the Manager. Start must return
// once the component is running; Stop must return once it has drained or ctx
// expires.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
