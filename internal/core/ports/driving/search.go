package driving

import (
	"context"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// SearchService provides label search to external actors.
type SearchService interface {
	// Search returns a user's images containing an object with the given
	// label, newest first. Matching is exact on the normalised label.
	Search(ctx context.Context, userID, label string, opts domain.SearchOptions) (*domain.SearchPage, error)
}
