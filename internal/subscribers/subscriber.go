package subscribers

import (
	"context"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

type Subscriber interface {
	Name() string
	Handle(context.Context, types.EventEnvelope) error
}
