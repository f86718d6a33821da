package partitions

/*
 * Time-window partitioning: aligned fixed-interval windows from a start
 * instant. A window [start, start+interval) becomes a valid partition once
 * its end has passed; the partition key is the window start formatted with
 * the definition's layout.
 *
 * Subsets over a time-window definition are stored as sorted disjoint
 * windows rather than key sets, so a year of hourly partitions is a handful
 * of ranges instead of thousands of strings. Union merges adjacent and
 * overlapping windows; difference performs interval subtraction. The key-set
 * semantics are unchanged: equality, containment and iteration behave exactly
 * as if every key were stored individually.
 */

import (
	"context"
	"fmt"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

// TimeWindow is a [Start, End) interval.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// TimeWindowPartitionsDefinition derives partition keys from aligned
// fixed-interval windows. End, when set, bounds the key space exclusively;
// otherwise the space grows as time passes.
type TimeWindowPartitionsDefinition struct {
	Start    time.Time
	End      *time.Time
	Interval time.Duration
	Format   string
}

// NewTimeWindowPartitions builds a time-window definition. The format is a
// time.Format layout; it must round-trip window starts unambiguously at the
// given interval (e.g. "2006-01-02" for 24h, "2006-01-02-15:04" for 1h).
func NewTimeWindowPartitions(start time.Time, interval time.Duration, format string) (*TimeWindowPartitionsDefinition, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("time window interval must be positive, got %s", interval)
	}
	if format == "" {
		return nil, fmt.Errorf("time window format must not be empty")
	}
	start = start.UTC()
	if formatted := start.Format(format); formatted == "" {
		return nil, fmt.Errorf("time window format %q produces empty keys", format)
	}
	return &TimeWindowPartitionsDefinition{Start: start, Interval: interval, Format: format}, nil
}

// WithEnd returns a copy with an exclusive end bound.
func (d *TimeWindowPartitionsDefinition) WithEnd(end time.Time) *TimeWindowPartitionsDefinition {
	out := *d
	utc := end.UTC()
	out.End = &utc
	return &out
}

// horizon returns the exclusive upper bound of valid window ends at now.
func (d *TimeWindowPartitionsDefinition) horizon(now time.Time) time.Time {
	h := now.UTC()
	if d.End != nil && d.End.Before(h) {
		h = *d.End
	}
	return h
}

// windowCount returns how many complete windows exist at now.
func (d *TimeWindowPartitionsDefinition) windowCount(now time.Time) int {
	h := d.horizon(now)
	if !h.After(d.Start) {
		return 0
	}
	n := int(h.Sub(d.Start) / d.Interval)
	if n > types.MaxPartitionKeys {
		n = types.MaxPartitionKeys
	}
	return n
}

// WindowForKey maps a partition key to its [start, end) window, failing with
// types.ErrInvalidPartitionKey for keys that do not parse or are misaligned.
func (d *TimeWindowPartitionsDefinition) WindowForKey(key string) (TimeWindow, error) {
	start, err := time.ParseInLocation(d.Format, key, time.UTC)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("%w: %q", types.ErrInvalidPartitionKey, key)
	}
	if start.Before(d.Start) || start.Sub(d.Start)%d.Interval != 0 {
		return TimeWindow{}, fmt.Errorf("%w: %q is not window-aligned", types.ErrInvalidPartitionKey, key)
	}
	return TimeWindow{Start: start, End: start.Add(d.Interval)}, nil
}

// KeyForWindowStart formats a window start as its partition key.
func (d *TimeWindowPartitionsDefinition) KeyForWindowStart(start time.Time) string {
	return start.UTC().Format(d.Format)
}

func (d *TimeWindowPartitionsDefinition) Keys(_ context.Context, _ DynamicPartitionsStore, now time.Time) ([]string, error) {
	n := d.windowCount(now)
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, d.KeyForWindowStart(d.Start.Add(time.Duration(i)*d.Interval)))
	}
	return keys, nil
}

func (d *TimeWindowPartitionsDefinition) Contains(_ context.Context, _ DynamicPartitionsStore, now time.Time, key string) (bool, error) {
	w, err := d.WindowForKey(key)
	if err != nil {
		return false, nil
	}
	return !w.End.After(d.horizon(now)), nil
}

func (d *TimeWindowPartitionsDefinition) KeyIndex(_ context.Context, _ DynamicPartitionsStore, now time.Time, key string) (int, error) {
	w, err := d.WindowForKey(key)
	if err != nil {
		return 0, err
	}
	if w.End.After(d.horizon(now)) {
		return 0, fmt.Errorf("%w: %q is not yet a complete window", types.ErrInvalidPartitionKey, key)
	}
	return int(w.Start.Sub(d.Start) / d.Interval), nil
}

func (d *TimeWindowPartitionsDefinition) Subset(_ context.Context, _ DynamicPartitionsStore, now time.Time, keys ...string) (Subset, error) {
	windows := make([]TimeWindow, 0, len(keys))
	horizon := d.horizon(now)
	for _, k := range keys {
		w, err := d.WindowForKey(k)
		if err != nil {
			return nil, err
		}
		if w.End.After(horizon) {
			return nil, fmt.Errorf("%w: %q is not yet a complete window", types.ErrInvalidPartitionKey, k)
		}
		windows = append(windows, w)
	}
	return newTimeWindowSubset(d, mergeWindows(nil, windows)), nil
}

func (d *TimeWindowPartitionsDefinition) Empty() Subset {
	return newTimeWindowSubset(d, nil)
}

// mergeWindows folds add into base, coalescing overlapping and adjacent
// windows. Both inputs may be unsorted; the result is sorted and disjoint.
func mergeWindows(base, add []TimeWindow) []TimeWindow {
	all := make([]TimeWindow, 0, len(base)+len(add))
	all = append(all, base...)
	all = append(all, add...)
	if len(all) == 0 {
		return nil
	}
	sortWindows(all)
	merged := []TimeWindow{all[0]}
	for _, w := range all[1:] {
		last := &merged[len(merged)-1]
		if !w.Start.After(last.End) {
			if w.End.After(last.End) {
				last.End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// subtractWindows removes every interval in sub from the intervals in base.
// Both inputs must be sorted and disjoint; the result is too.
func subtractWindows(base, sub []TimeWindow) []TimeWindow {
	var out []TimeWindow
	j := 0
	for _, w := range base {
		cur := w
		for j < len(sub) && !sub[j].End.After(cur.Start) {
			j++
		}
		k := j
		for k < len(sub) && sub[k].Start.Before(cur.End) {
			s := sub[k]
			if s.Start.After(cur.Start) {
				out = append(out, TimeWindow{Start: cur.Start, End: s.Start})
			}
			if s.End.Before(cur.End) {
				cur.Start = s.End
				k++
				continue
			}
			cur.Start = cur.End
			break
		}
		if cur.Start.Before(cur.End) {
			out = append(out, cur)
		}
	}
	return out
}

func sortWindows(ws []TimeWindow) {
	for i := 1; i < len(ws); i++ {
		for j := i; j > 0 && ws[j].Start.Before(ws[j-1].Start); j-- {
			ws[j], ws[j-1] = ws[j-1], ws[j]
		}
	}
}

// timeWindowSubset stores a subset as sorted disjoint windows over its
// definition. Immutable; all operations return fresh values.
type timeWindowSubset struct {
	def     *TimeWindowPartitionsDefinition
	windows []TimeWindow
	count   int
}

func newTimeWindowSubset(def *TimeWindowPartitionsDefinition, windows []TimeWindow) *timeWindowSubset {
	count := 0
	for _, w := range windows {
		count += int(w.End.Sub(w.Start) / def.Interval)
	}
	return &timeWindowSubset{def: def, windows: windows, count: count}
}

func (s *timeWindowSubset) Len() int      { return s.count }
func (s *timeWindowSubset) IsEmpty() bool { return s.count == 0 }

func (s *timeWindowSubset) Contains(key string) bool {
	w, err := s.def.WindowForKey(key)
	if err != nil {
		return false
	}
	for _, win := range s.windows {
		if !w.Start.Before(win.Start) && !w.End.After(win.End) {
			return true
		}
	}
	return false
}

func (s *timeWindowSubset) Keys() []string {
	keys := make([]string, 0, s.count)
	for _, w := range s.windows {
		for t := w.Start; t.Before(w.End); t = t.Add(s.def.Interval) {
			keys = append(keys, s.def.KeyForWindowStart(t))
		}
	}
	return keys
}

func (s *timeWindowSubset) Union(other Subset) (Subset, error) {
	o, err := s.compatible(other)
	if err != nil {
		return nil, err
	}
	return newTimeWindowSubset(s.def, mergeWindows(s.windows, o.windows)), nil
}

func (s *timeWindowSubset) Difference(other Subset) (Subset, error) {
	o, err := s.compatible(other)
	if err != nil {
		return nil, err
	}
	return newTimeWindowSubset(s.def, subtractWindows(s.windows, o.windows)), nil
}

func (s *timeWindowSubset) Equal(other Subset) bool {
	if o, ok := other.(*timeWindowSubset); ok && o.def.Interval == s.def.Interval {
		if s.count != o.count || len(s.windows) != len(o.windows) {
			return false
		}
		for i := range s.windows {
			if !s.windows[i].Start.Equal(o.windows[i].Start) || !s.windows[i].End.Equal(o.windows[i].End) {
				return false
			}
		}
		return true
	}
	// Representation-independent fallback: compare key sets.
	return keySetsEqual(s, other)
}

func (s *timeWindowSubset) KeyRanges(context.Context, PartitionsDefinition, DynamicPartitionsStore, time.Time) ([]PartitionKeyRange, error) {
	ranges := make([]PartitionKeyRange, 0, len(s.windows))
	for _, w := range s.windows {
		ranges = append(ranges, PartitionKeyRange{
			Start: s.def.KeyForWindowStart(w.Start),
			End:   s.def.KeyForWindowStart(w.End.Add(-s.def.Interval)),
		})
	}
	return ranges, nil
}

// Windows exposes the backing intervals for serialization.
func (s *timeWindowSubset) Windows() []TimeWindow {
	out := make([]TimeWindow, len(s.windows))
	copy(out, s.windows)
	return out
}

func (s *timeWindowSubset) compatible(other Subset) (*timeWindowSubset, error) {
	o, ok := other.(*timeWindowSubset)
	if !ok {
		return nil, fmt.Errorf("%w: time-window subset combined with %T", types.ErrSubsetMismatch, other)
	}
	if o.def.Interval != s.def.Interval || o.def.Format != s.def.Format {
		return nil, fmt.Errorf("%w: mismatched time-window definitions", types.ErrSubsetMismatch)
	}
	return o, nil
}
