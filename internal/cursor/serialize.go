package cursor

/*
 * Cursor wire format: a versioned JSON envelope, gzip-compressed, base64-
 * encoded. Compression matters here: the cursor embeds one full evaluation
 * tree per asset and is rewritten every tick.
 *
 * Decode never fails. Blobs that don't carry the current envelope fall back
 * to the retired format (plain JSON, where a leading array element or a bare
 * number is the evaluation id), and migration preserves only the evaluation
 * id; anything else yields the empty cursor. A daemon pointed at a corrupt
 * or foreign cursor re-seeds instead of crash-looping, at the cost of one
 * full re-evaluation.
 */

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/solatis/freshkeeper/internal/types"
)

// cursorWireVersion gates the current cursor encoding.
const cursorWireVersion = 1

type cursorJSON struct {
	Version      int                `json:"version"`
	EvaluationID types.EvaluationID `json:"evaluation_id"`
	AssetStates  []AssetState       `json:"asset_states,omitempty"`
}

// Encode serializes the cursor into its storable string form.
func (c Cursor) Encode() (string, error) {
	raw, err := json.Marshal(cursorJSON{
		Version:      cursorWireVersion,
		EvaluationID: c.evaluationID,
		AssetStates:  c.AssetStates(),
	})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode deserializes a stored cursor blob, falling back to the legacy
// format and then to the empty cursor. Never an error: see the file comment.
func Decode(raw string) Cursor {
	if raw == "" {
		return Empty(0)
	}

	compressed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return decodeLegacy(raw)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return decodeLegacy(raw)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		return decodeLegacy(raw)
	}

	var decoded cursorJSON
	if err := json.Unmarshal(plain, &decoded); err != nil {
		return decodeLegacy(raw)
	}
	if decoded.Version != cursorWireVersion {
		// A foreign version still names its evaluation id; keep the
		// high-water mark and drop the rest.
		return Empty(decoded.EvaluationID)
	}

	return Empty(decoded.EvaluationID).WithUpdates(decoded.EvaluationID, decoded.AssetStates)
}

// decodeLegacy recovers the evaluation id from the retired plain-JSON cursor:
// a bare number, or an array whose first element is one.
func decodeLegacy(raw string) Cursor {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Empty(0)
	}

	switch t := v.(type) {
	case json.Number:
		return Empty(legacyEvaluationID(t))
	case []any:
		if len(t) > 0 {
			if n, ok := t[0].(json.Number); ok {
				return Empty(legacyEvaluationID(n))
			}
		}
	}
	return Empty(0)
}

func legacyEvaluationID(n json.Number) types.EvaluationID {
	id, err := n.Int64()
	if err != nil || id < 0 {
		return 0
	}
	return types.EvaluationID(id)
}
