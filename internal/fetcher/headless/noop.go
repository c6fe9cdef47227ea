package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

// ErrDisabled is returned when headless rendering is switched off.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop stands in for the browser when rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, _ brief.FetchRequest) (brief.FetchResponse, error) {
	return brief.FetchResponse{}, ErrDisabled
}
