package partitions

/*
 * Subset wire format. Serialized subsets are self-contained: a time-window
 * subset carries its interval and key format alongside the window bounds,
 * so a reader can enumerate keys and test membership without access to the
 * partitions definition that produced it. Fields are additive; the version
 * field gates any future breaking change.
 */

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

const subsetWireVersion = 1

const (
	subsetKindKeys        = "keys"
	subsetKindTimeWindows = "time_windows"
)

type subsetJSON struct {
	Version int    `json:"version"`
	Type    string `json:"type"`

	// keys subsets
	Keys []string `json:"keys,omitempty"`

	// time-window subsets; bounds are [start, end) unix seconds
	TimeWindows     [][2]int64 `json:"time_windows,omitempty"`
	NumPartitions   *int       `json:"num_partitions,omitempty"`
	IntervalSeconds int64      `json:"interval_seconds,omitempty"`
	Format          string     `json:"format,omitempty"`
}

// MarshalSubset encodes a Subset in the versioned wire format.
func MarshalSubset(s Subset) ([]byte, error) {
	switch v := s.(type) {
	case *keysSubset:
		keys := v.Keys()
		if keys == nil {
			keys = []string{}
		}
		return json.Marshal(subsetJSON{
			Version: subsetWireVersion,
			Type:    subsetKindKeys,
			Keys:    keys,
		})
	case *timeWindowSubset:
		windows := make([][2]int64, 0, len(v.windows))
		for _, w := range v.windows {
			windows = append(windows, [2]int64{w.Start.Unix(), w.End.Unix()})
		}
		count := v.count
		return json.Marshal(subsetJSON{
			Version:         subsetWireVersion,
			Type:            subsetKindTimeWindows,
			TimeWindows:     windows,
			NumPartitions:   &count,
			IntervalSeconds: int64(v.def.Interval / time.Second),
			Format:          v.def.Format,
		})
	default:
		return nil, fmt.Errorf("unknown subset type %T", s)
	}
}

// UnmarshalSubset decodes a Subset from its wire form. Time-window subsets
// are rebuilt against a definition anchored at the earliest window, which
// preserves alignment for every serialized window.
func UnmarshalSubset(data []byte) (Subset, error) {
	var raw subsetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode subset: %w", err)
	}
	if raw.Version != subsetWireVersion {
		return nil, fmt.Errorf("decode subset: unsupported version %d", raw.Version)
	}
	switch raw.Type {
	case subsetKindKeys:
		return newKeysSubset(raw.Keys), nil
	case subsetKindTimeWindows:
		if raw.IntervalSeconds <= 0 {
			return nil, fmt.Errorf("decode subset: interval %ds out of range", raw.IntervalSeconds)
		}
		interval := time.Duration(raw.IntervalSeconds) * time.Second
		windows := make([]TimeWindow, 0, len(raw.TimeWindows))
		for _, w := range raw.TimeWindows {
			start := time.Unix(w[0], 0).UTC()
			end := time.Unix(w[1], 0).UTC()
			if !end.After(start) {
				return nil, fmt.Errorf("decode subset: window end %d not after start %d", w[1], w[0])
			}
			if end.Sub(start)%interval != 0 {
				return nil, fmt.Errorf("%w: window [%d, %d) not aligned to %s", types.ErrInvalidPartitionKey, w[0], w[1], interval)
			}
			windows = append(windows, TimeWindow{Start: start, End: end})
		}
		sortWindows(windows)
		for i := 1; i < len(windows); i++ {
			if windows[i].Start.Before(windows[i-1].End) {
				return nil, fmt.Errorf("decode subset: overlapping windows")
			}
		}
		anchor := time.Time{}
		if len(windows) > 0 {
			anchor = windows[0].Start
		}
		def := &TimeWindowPartitionsDefinition{
			Start:    anchor,
			Interval: interval,
			Format:   raw.Format,
		}
		for _, w := range windows {
			if w.Start.Sub(anchor)%interval != 0 {
				return nil, fmt.Errorf("%w: windows not mutually aligned on %s grid", types.ErrInvalidPartitionKey, interval)
			}
		}
		subset := newTimeWindowSubset(def, windows)
		if raw.NumPartitions != nil && *raw.NumPartitions != subset.count {
			return nil, fmt.Errorf("decode subset: partition count %d does not match windows (%d)", *raw.NumPartitions, subset.count)
		}
		return subset, nil
	default:
		return nil, fmt.Errorf("decode subset: unknown type %q", raw.Type)
	}
}

// SortedKeys returns the subset's keys in lexicographic order regardless of
// the backing representation.
func SortedKeys(s Subset) []string {
	keys := s.Keys()
	sort.Strings(keys)
	return keys
}
