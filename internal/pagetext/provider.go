package pagetext

import "context"

// Provider supplies per-page word geometry from the rendering engine.
type Provider interface {
	// PageCount returns the number of pages under the current layout.
	PageCount() int
	// Lines returns the ordered lines of words for a page. Implementations
	// return an empty slice for pages without extractable text.
	Lines(ctx context.Context, pageIndex int) ([]Line, error)
}

// Locator resolves opaque layout-independent location tokens against the
// current layout.
type Locator interface {
	// PageFromLocation returns the page index for a location token, or -1
	// when the token cannot be resolved.
	PageFromLocation(location string) int
}

// StaticProvider is a Provider over pre-extracted pages, used by tests and by
// callers that already hold the full extraction.
type StaticProvider struct {
	Pages [][]Line
}

func (s *StaticProvider) PageCount() int { return len(s.Pages) }

func (s *StaticProvider) Lines(_ context.Context, pageIndex int) ([]Line, error) {
	if pageIndex < 0 || pageIndex >= len(s.Pages) {
		return nil, nil
	}
	return s.Pages[pageIndex], nil
}
