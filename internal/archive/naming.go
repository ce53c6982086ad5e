package archive

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stacksnap/snapferry/internal/domain"
)

const (
	// TimestampLayout is fixed width so names sort chronologically as strings.
	TimestampLayout = "20060102150405"
	Extension       = ".tar.gz"
)

// BuildName returns "<label>_<YYYYMMDDHHMMSS>.tar.gz" for now in UTC.
// Names built within the same second for the same label collide.
func BuildName(label string, now time.Time) string {
	return label + "_" + now.UTC().Format(TimestampLayout) + Extension
}

func NewName(label string) string {
	return BuildName(label, time.Now())
}

// ParseTimestamp extracts the timestamp embedded by BuildName. It reports
// false for any name that does not carry one and never panics.
func ParseTimestamp(name string) (time.Time, bool) {
	i := strings.LastIndex(name, "_")
	if i < 0 {
		return time.Time{}, false
	}
	ts := name[i+1:]
	if dot := strings.Index(ts, "."); dot >= 0 {
		ts = ts[:dot]
	}
	if len(ts) != len(TimestampLayout) {
		return time.Time{}, false
	}
	for _, r := range ts {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}
	t, err := time.ParseInLocation(TimestampLayout, ts, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SelectLatest picks the newest name carrying prefix. It relies on the
// timestamp following the prefix directly, so string order is time order.
func SelectLatest(names []string, prefix string) (string, error) {
	var candidates []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return "", domain.NotFound("select latest", fmt.Errorf("no backups found with prefix %q", prefix))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))
	return candidates[0], nil
}

// Entry is a remote archive name with its parsed timestamp, if any.
type Entry struct {
	Name      string
	Timestamp time.Time
	Dated     bool
}

// Catalog returns the names carrying prefix, newest first. Undated names sort last.
func Catalog(names []string, prefix string) []Entry {
	var out []Entry
	for _, n := range names {
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		ts, ok := ParseTimestamp(n)
		out = append(out, Entry{Name: n, Timestamp: ts, Dated: ok})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Dated != out[j].Dated {
			return out[i].Dated
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Name > out[j].Name
	})
	return out
}
