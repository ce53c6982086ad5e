package backup

import (
	"context"

	"github.com/stacksnap/snapferry/internal/archive"
	"github.com/stacksnap/snapferry/internal/domain"
)

// List returns the remote archives of kind, newest first. An empty kind
// lists every entry in the destination directory.
func (s *Service) List(ctx context.Context, kind domain.Kind) ([]archive.Entry, error) {
	t, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.disconnect(t)

	names, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	prefix := ""
	if kind != "" {
		prefix = kind.Prefix()
	}
	return archive.Catalog(names, prefix), nil
}
