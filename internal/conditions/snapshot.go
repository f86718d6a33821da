package conditions

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Snapshot is the serializable identity of one condition-tree node. UniqueID
// is a content hash over the node's class name and its children's ids, so the
// same condition structure always hashes to the same id regardless of which
// process built it. Stored alongside evaluations; never reconstructed into a
// live Condition.
type Snapshot struct {
	ClassName   string `json:"class_name"`
	Description string `json:"description"`
	UniqueID    string `json:"unique_id"`
}

// Wire class names. These are persisted inside evaluation records and feed
// the unique-id hash; changing one orphans every stored snapshot.
const (
	classRuleCondition = "RuleCondition"
	classAndCondition  = "AndAssetCondition"
	classOrCondition   = "OrAssetCondition"
	classNotCondition  = "NotAssetCondition"
)

// Display descriptions for composite nodes.
const (
	descriptionAllOf = "All of"
	descriptionAnyOf = "Any of"
	descriptionNot   = "Not"
)

// uniqueID hashes the given parts into a hex node id. Plain concatenation,
// no separator: ids are stable only if every part is itself stable.
func uniqueID(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

func compositeSnapshot(className, description string, children []Condition) Snapshot {
	parts := make([]string, 0, len(children)+1)
	parts = append(parts, className)
	for _, child := range children {
		parts = append(parts, child.Snapshot().UniqueID)
	}
	return Snapshot{
		ClassName:   className,
		Description: description,
		UniqueID:    uniqueID(parts...),
	}
}

// DisplayDescription resolves the human-readable description of a snapshot,
// falling back to the class's display form when the stored description is
// empty (as reconstructed legacy nodes are).
func (s Snapshot) DisplayDescription() string {
	if s.Description != "" {
		return s.Description
	}
	switch s.ClassName {
	case classAndCondition:
		return descriptionAllOf
	case classOrCondition:
		return descriptionAnyOf
	case classNotCondition:
		return descriptionNot
	}
	return s.Description
}
