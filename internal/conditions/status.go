package conditions

// Status is the presentation-layer verdict of one evaluation node, computed
// on read and never stored.
type Status string

const (
	StatusTrue    Status = "TRUE"
	StatusFalse   Status = "FALSE"
	StatusSkipped Status = "SKIPPED"
)

// StatusForKey derives the node's verdict for a single partition key: TRUE
// when the key is in the true subset, FALSE when it was a candidate (a nil
// candidate counts every key) but not accepted, SKIPPED when the key never
// reached this node.
func (e *Evaluation) StatusForKey(partitionKey string) Status {
	if e.TrueSubset.ContainsKey(partitionKey) {
		return StatusTrue
	}
	if e.CandidateSubset == nil || e.CandidateSubset.ContainsKey(partitionKey) {
		return StatusFalse
	}
	return StatusSkipped
}

// Status derives the whole-node verdict. For unpartitioned assets this is
// the stored three-way outcome; a false result only counts as FALSE when the
// node actually considered something, otherwise it was skipped. Partitioned
// nodes summarize: any accepted partition is TRUE, any rejected candidate is
// FALSE, an untouched node is SKIPPED.
func (e *Evaluation) Status() Status {
	if !e.TrueSubset.IsPartitioned() {
		if e.TrueSubset.BoolValue() {
			return StatusTrue
		}
		if e.CandidateSubset != nil && !e.CandidateSubset.IsEmpty() {
			return StatusFalse
		}
		return StatusSkipped
	}
	if !e.TrueSubset.IsEmpty() {
		return StatusTrue
	}
	if e.CandidateSubset == nil || !e.CandidateSubset.IsEmpty() {
		return StatusFalse
	}
	return StatusSkipped
}

// Counts is the partition tally of one node given the total size of the
// asset's currently valid partition space.
type Counts struct {
	NumTrue    int `json:"num_true"`
	NumFalse   int `json:"num_false"`
	NumSkipped int `json:"num_skipped"`
}

// Counts tallies the node's partitions: trues from the true subset, falses
// from the rejected candidates (a nil candidate defaults to the whole space),
// skips from whatever never became a candidate.
func (e *Evaluation) Counts(totalPartitions int) Counts {
	numTrue := e.TrueSubset.Size()
	candidateSize := totalPartitions
	if e.CandidateSubset != nil {
		candidateSize = e.CandidateSubset.Size()
	}
	return Counts{
		NumTrue:    numTrue,
		NumFalse:   candidateSize - numTrue,
		NumSkipped: totalPartitions - candidateSize,
	}
}
