package conditions

import (
	"fmt"

	"github.com/solatis/freshkeeper/internal/types"
)

// MetadataValue is a small tagged union of display values attached to rule
// evaluations: free text, an asset reference, or a number.
type MetadataValue struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	AssetKey *types.AssetKey `json:"asset_key,omitempty"`
	Int      *int64          `json:"int,omitempty"`
	Float    *float64        `json:"float,omitempty"`
}

// Metadata maps display labels to values. Keys like "updated_parent_1" are
// numbered in sorted order of the referenced assets so identical causes
// always produce identical metadata.
type Metadata map[string]MetadataValue

// TextValue builds a text metadata value.
func TextValue(text string) MetadataValue {
	return MetadataValue{Type: "text", Text: text}
}

// AssetValue builds an asset-reference metadata value.
func AssetValue(key types.AssetKey) MetadataValue {
	return MetadataValue{Type: "asset", AssetKey: &key}
}

// IntValue builds an integer metadata value.
func IntValue(v int64) MetadataValue {
	return MetadataValue{Type: "int", Int: &v}
}

// FloatValue builds a float metadata value.
func FloatValue(v float64) MetadataValue {
	return MetadataValue{Type: "float", Float: &v}
}

// Equal compares by content.
func (v MetadataValue) Equal(other MetadataValue) bool {
	if v.Type != other.Type || v.Text != other.Text {
		return false
	}
	if (v.AssetKey == nil) != (other.AssetKey == nil) {
		return false
	}
	if v.AssetKey != nil && !v.AssetKey.Equal(*other.AssetKey) {
		return false
	}
	if (v.Int == nil) != (other.Int == nil) || (v.Int != nil && *v.Int != *other.Int) {
		return false
	}
	if (v.Float == nil) != (other.Float == nil) || (v.Float != nil && *v.Float != *other.Float) {
		return false
	}
	return true
}

// Equal compares two metadata maps by content.
func (m Metadata) Equal(other Metadata) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// assetListMetadata numbers a sorted list of asset keys under a label prefix,
// e.g. updated_parent_1, updated_parent_2.
func assetListMetadata(prefix string, keys []types.AssetKey) Metadata {
	out := make(Metadata, len(keys))
	for i, k := range keys {
		out[fmt.Sprintf("%s_%d", prefix, i+1)] = AssetValue(k)
	}
	return out
}
