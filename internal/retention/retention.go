// Package retention prunes expired archives from a remote directory.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/stacksnap/snapferry/internal/archive"
	"github.com/stacksnap/snapferry/internal/domain"
)

// Remote is the part of a transport a sweep needs.
type Remote interface {
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

type Result struct {
	Cutoff  time.Time
	Deleted []string
	// Denied holds expired entries the remote refused to delete.
	Denied []string
	// Undated holds entries without a parseable timestamp; they are never touched.
	Undated []string
}

// Sweep deletes every entry whose embedded timestamp is strictly older than
// now minus days. A days value of zero or less disables it. Permission
// refusals are logged and skipped; any other delete error ends the sweep.
func Sweep(ctx context.Context, remote Remote, days int, now time.Time, log zerolog.Logger) (*Result, error) {
	if days <= 0 {
		log.Debug().Int("retention_days", days).Msg("retention disabled")
		return &Result{}, nil
	}

	res := &Result{Cutoff: now.UTC().AddDate(0, 0, -days)}
	names, err := remote.List(ctx)
	if err != nil {
		return res, err
	}

	for _, name := range names {
		ts, ok := archive.ParseTimestamp(name)
		if !ok {
			res.Undated = append(res.Undated, name)
			continue
		}
		if !ts.Before(res.Cutoff) {
			continue
		}

		log.Info().Str("archive", name).Time("created", ts).Msg("deleting expired backup")
		if err := remote.Delete(ctx, name); err != nil {
			if errors.Is(err, domain.ErrPermissionDenied) {
				log.Warn().Err(err).Str("archive", name).Msg("not allowed to delete expired backup, skipping")
				res.Denied = append(res.Denied, name)
				continue
			}
			return res, err
		}
		res.Deleted = append(res.Deleted, name)
	}

	log.Info().
		Int("deleted", len(res.Deleted)).
		Int("denied", len(res.Denied)).
		Time("cutoff", res.Cutoff).
		Msg("retention sweep finished")
	return res, nil
}
