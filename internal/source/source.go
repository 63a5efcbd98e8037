package source

import (
	"context"

	"github.com/e7canasta/photocheck/internal/sampler"
)

// Live is a source with a lifecycle.
type Live interface {
	sampler.Source

	Start(ctx context.Context) error
	Stop() error
	Mailbox() *Mailbox
}

var (
	_ Live = (*Synthetic)(nil)
	_ Live = (*Camera)(nil)
)
