package api

import (
	"sort"

	"github.com/solatis/freshkeeper/internal/core/storage"
	"github.com/solatis/freshkeeper/internal/types"
)

// assetPartition identifies one requested materialization. Whole-asset
// requests use the empty partition key.
type assetPartition struct {
	asset     string
	partition string
}

func requestedPairs(tick storage.Tick) map[assetPartition]struct{} {
	pairs := make(map[assetPartition]struct{})
	for _, request := range tick.RunRequests {
		partition := ""
		if request.PartitionKey != nil {
			partition = *request.PartitionKey
		}
		for _, key := range request.AssetKeys {
			pairs[assetPartition{asset: key.String(), partition: partition}] = struct{}{}
		}
	}
	return pairs
}

// RequestedMaterializationCount counts the distinct (asset, partition) pairs
// a tick's run requests cover. One request may name several assets and
// several requests may overlap, so counting requests would be wrong in both
// directions.
func RequestedMaterializationCount(tick storage.Tick) int {
	return len(requestedPairs(tick))
}

// RequestedPartitionsForAsset returns the distinct partition keys the tick
// requested for one asset, sorted. Whole-asset requests contribute no
// partition keys.
func RequestedPartitionsForAsset(tick storage.Tick, key types.AssetKey) []string {
	asset := key.String()
	seen := make(map[string]struct{})
	for pair := range requestedPairs(tick) {
		if pair.asset != asset || pair.partition == "" {
			continue
		}
		seen[pair.partition] = struct{}{}
	}

	partitions := make([]string, 0, len(seen))
	for partition := range seen {
		partitions = append(partitions, partition)
	}
	sort.Strings(partitions)
	return partitions
}
