package conditions

import (
	"encoding/json"
	"fmt"
)

// recordWireVersion gates the current evaluation-record encoding. Bump only
// with a new decode branch; old rows are never rewritten.
const recordWireVersion = 1

// recordJSON is the current persisted envelope for one asset's evaluation.
type recordJSON struct {
	Version int                   `json:"version"`
	Record  *EvaluationWithRunIDs `json:"record"`
}

// EncodeRecord serializes an evaluation-with-runs in the current wire format.
func EncodeRecord(e *EvaluationWithRunIDs) ([]byte, error) {
	if e == nil || e.Evaluation == nil {
		return nil, fmt.Errorf("encode evaluation record: nil evaluation")
	}
	return json.Marshal(recordJSON{Version: recordWireVersion, Record: e})
}

// DecodeRecord deserializes a persisted evaluation blob, current format or
// legacy flat-rule-list format. Legacy blobs reconstruct into the synthetic
// tree shape and never fail on absent optional fields; only malformed JSON
// or an unrecognized envelope is an error.
func DecodeRecord(data []byte) (*EvaluationWithRunIDs, error) {
	var probe struct {
		Version int    `json:"version"`
		Class   string `json:"__class__"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode evaluation record: %w", err)
	}

	if probe.Class == legacyEvaluationClass {
		return decodeLegacyRecord(data)
	}

	if probe.Version != recordWireVersion {
		return nil, fmt.Errorf("decode evaluation record: unsupported version %d", probe.Version)
	}
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode evaluation record: %w", err)
	}
	if raw.Record == nil || raw.Record.Evaluation == nil {
		return nil, fmt.Errorf("decode evaluation record: missing evaluation")
	}
	return raw.Record, nil
}
