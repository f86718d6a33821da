package daemon

/*
 * The asset manifest is the daemon's whole configuration surface for WHAT to
 * schedule: a declarative YAML list of assets, each with an optional
 * partitions definition, upstream parents, and an automation policy. Assets
 * without a policy participate in the graph as parents only.
 *
 *   assets:
 *     - key: raw/events
 *       partitions:
 *         static: [eu-west, us-east]
 *       policy:
 *         kind: eager
 *     - key: agg/daily
 *       parents: [raw/events]
 *       partitions:
 *         time_window:
 *           start: 2024-01-01T00:00:00Z
 *           interval: 24h
 *           format: "2006-01-02"
 *       policy:
 *         kind: periodic
 *         every: 24h
 *         max_per_tick: 10
 *
 * Parsing is strict (unknown fields are rejected) and every validation
 * failure wraps ErrInvalidManifest naming the offending asset.
 */

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

type manifestYAML struct {
	Assets []assetYAML `yaml:"assets"`
}

type assetYAML struct {
	Key        string          `yaml:"key"`
	Partitions *partitionsYAML `yaml:"partitions"`
	Parents    []string        `yaml:"parents"`
	Policy     *policyYAML     `yaml:"policy"`
}

type partitionsYAML struct {
	Static     []string        `yaml:"static"`
	Dynamic    string          `yaml:"dynamic"`
	TimeWindow *timeWindowYAML `yaml:"time_window"`
}

type timeWindowYAML struct {
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`
	Interval string    `yaml:"interval"`
	Format   string    `yaml:"format"`
}

type policyYAML struct {
	Kind       string `yaml:"kind"`
	Every      string `yaml:"every"`
	MaxPerTick int    `yaml:"max_per_tick"`
}

// Policy kinds accepted by the manifest.
const (
	policyKindEager    = "eager"
	policyKindPeriodic = "periodic"
)

// LoadManifest reads and parses the asset manifest at path.
func LoadManifest(path string) ([]*Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	assets, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return assets, nil
}

// ParseManifest parses manifest YAML into graph assets, compiling each
// policy into its condition tree. Structural problems (bad YAML, unknown
// fields, bad references) wrap ErrInvalidManifest.
func ParseManifest(data []byte) ([]*Asset, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m manifestYAML
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidManifest, err)
	}

	if len(m.Assets) == 0 {
		return nil, fmt.Errorf("%w: no assets", types.ErrInvalidManifest)
	}
	if len(m.Assets) > types.MaxManifestAssets {
		return nil, fmt.Errorf("%w: %d assets exceeds limit %d",
			types.ErrInvalidManifest, len(m.Assets), types.MaxManifestAssets)
	}

	keys := make(map[string]struct{}, len(m.Assets))
	assets := make([]*Asset, 0, len(m.Assets))
	for _, entry := range m.Assets {
		asset, err := buildAsset(entry)
		if err != nil {
			return nil, err
		}
		key := asset.Key.String()
		if _, dup := keys[key]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %q", types.ErrInvalidManifest, key)
		}
		keys[key] = struct{}{}
		assets = append(assets, asset)
	}

	// Parent references resolve against the manifest itself; the graph also
	// checks this, but failing here names the manifest as the culprit.
	for _, asset := range assets {
		for _, parent := range asset.Parents {
			if _, ok := keys[parent.String()]; !ok {
				return nil, fmt.Errorf("%w: asset %q references unknown parent %q",
					types.ErrInvalidManifest, asset.Key, parent)
			}
		}
	}
	return assets, nil
}

func buildAsset(entry assetYAML) (*Asset, error) {
	if entry.Key == "" {
		return nil, fmt.Errorf("%w: asset with empty key", types.ErrInvalidManifest)
	}
	key := types.AssetKeyFromString(entry.Key)
	if len(key.Path) > types.MaxAssetKeySegments {
		return nil, fmt.Errorf("%w: asset %q has %d path segments, limit %d",
			types.ErrInvalidManifest, entry.Key, len(key.Path), types.MaxAssetKeySegments)
	}

	def, err := buildPartitions(entry.Key, entry.Partitions)
	if err != nil {
		return nil, err
	}

	asset := &Asset{Key: key, Def: def}
	for _, parent := range entry.Parents {
		asset.Parents = append(asset.Parents, types.AssetKeyFromString(parent))
	}

	if entry.Policy != nil {
		policy, err := buildPolicy(entry.Key, *entry.Policy)
		if err != nil {
			return nil, err
		}
		cond, err := policy.Compile()
		if err != nil {
			return nil, fmt.Errorf("%w: asset %q policy: %v", types.ErrInvalidManifest, entry.Key, err)
		}
		asset.Policy = &policy
		asset.Condition = cond
	}
	return asset, nil
}

func buildPartitions(key string, p *partitionsYAML) (partitions.PartitionsDefinition, error) {
	if p == nil {
		return nil, nil
	}

	kinds := 0
	if len(p.Static) > 0 {
		kinds++
	}
	if p.Dynamic != "" {
		kinds++
	}
	if p.TimeWindow != nil {
		kinds++
	}
	if kinds != 1 {
		return nil, fmt.Errorf("%w: asset %q partitions must set exactly one of static, dynamic, time_window",
			types.ErrInvalidManifest, key)
	}

	switch {
	case len(p.Static) > 0:
		def, err := partitions.NewStaticPartitions(p.Static...)
		if err != nil {
			return nil, fmt.Errorf("%w: asset %q static partitions: %v", types.ErrInvalidManifest, key, err)
		}
		return def, nil

	case p.Dynamic != "":
		return partitions.NewDynamicPartitions(p.Dynamic), nil

	default:
		tw := p.TimeWindow
		if tw.Start.IsZero() {
			return nil, fmt.Errorf("%w: asset %q time_window partitions need a start", types.ErrInvalidManifest, key)
		}
		interval, err := time.ParseDuration(tw.Interval)
		if err != nil {
			return nil, fmt.Errorf("%w: asset %q time_window interval: %v", types.ErrInvalidManifest, key, err)
		}
		def, err := partitions.NewTimeWindowPartitions(tw.Start, interval, tw.Format)
		if err != nil {
			return nil, fmt.Errorf("%w: asset %q time_window partitions: %v", types.ErrInvalidManifest, key, err)
		}
		if !tw.End.IsZero() {
			def = def.WithEnd(tw.End)
		}
		return def, nil
	}
}

func buildPolicy(key string, p policyYAML) (conditions.AutomationPolicy, error) {
	switch p.Kind {
	case policyKindEager, "":
		if p.Every != "" {
			return conditions.AutomationPolicy{}, fmt.Errorf(
				"%w: asset %q eager policy does not take an interval", types.ErrInvalidManifest, key)
		}
		return conditions.EagerPolicy(p.MaxPerTick), nil

	case policyKindPeriodic:
		if p.Every == "" {
			return conditions.AutomationPolicy{}, fmt.Errorf(
				"%w: asset %q periodic policy needs an interval", types.ErrInvalidManifest, key)
		}
		every, err := time.ParseDuration(p.Every)
		if err != nil {
			return conditions.AutomationPolicy{}, fmt.Errorf(
				"%w: asset %q periodic interval: %v", types.ErrInvalidManifest, key, err)
		}
		policy, err := conditions.PeriodicPolicy(every, p.MaxPerTick)
		if err != nil {
			return conditions.AutomationPolicy{}, fmt.Errorf(
				"%w: asset %q periodic policy: %v", types.ErrInvalidManifest, key, err)
		}
		return policy, nil

	default:
		return conditions.AutomationPolicy{}, fmt.Errorf(
			"%w: asset %q has unknown policy kind %q", types.ErrInvalidManifest, key, p.Kind)
	}
}
