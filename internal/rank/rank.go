// Package rank computes venue rank verdicts against yearly ranking catalogues.
package rank

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/ppiankov/rankme/internal/match"
	"github.com/ppiankov/rankme/internal/model"
	"github.com/ppiankov/rankme/internal/throttle"
)

var (
	// ErrBadRequest is returned when a mandatory query attribute is missing.
	ErrBadRequest = errors.New("bad request")
	// ErrSourceNotFound is returned for unknown catalogue source ids.
	ErrSourceNotFound = errors.New("ranking source not found")
)

// Labels shared by both engines.
const (
	LabelMisc     = "Misc"
	LabelUnranked = "Unranked"
	LabelQU       = "QU"

	msgUnavailable = "ranking source unavailable"
)

// Fetcher performs rate-limited upstream requests.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts ...throttle.RequestOption) (*throttle.Response, error)
}

// NameResolver maps a venue reference to its full name, "" when unknown.
type NameResolver interface {
	ResolveFullName(ctx context.Context, ref string) string
}

// SelectSnapshot returns the newest snapshot published in or before year.
// When year predates every snapshot the oldest one is returned.
func SelectSnapshot(refs []model.SnapshotRef, year int) (model.SnapshotRef, bool) {
	if len(refs) == 0 {
		return model.SnapshotRef{}, false
	}
	sorted := slices.Clone(refs)
	slices.SortStableFunc(sorted, func(a, b model.SnapshotRef) int {
		return cmp.Compare(b.Year, a.Year)
	})
	for _, ref := range sorted {
		if ref.Year <= year {
			return ref, true
		}
	}
	return sorted[len(sorted)-1], true
}

type scored struct {
	entry model.RankingEntry
	score int
}

// score computes the token distance of every entry title to title.
// Entries above maxDistance are dropped; a negative maxDistance keeps all.
func score(entries []model.RankingEntry, title []string, maxDistance int) []scored {
	out := make([]scored, 0, len(entries))
	for _, e := range entries {
		d := match.Distance(match.Normalize(e.Title), title)
		if maxDistance >= 0 && d > maxDistance {
			continue
		}
		out = append(out, scored{entry: e, score: d})
	}
	return out
}

// best returns the first candidate with the minimum score.
func best(cands []scored) scored {
	b := cands[0]
	for _, c := range cands[1:] {
		if c.score < b.score {
			b = c
		}
	}
	return b
}

func unranked(label, msg string) model.Verdict {
	return model.Verdict{Value: label, Msg: msg, Score: -1}
}
