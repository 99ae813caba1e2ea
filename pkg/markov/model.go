package markov

import (
	"bytes"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// encodingVersion is written into every encoded table.
const encodingVersion = 1

// legacyWeightKey is the reserved key the legacy format stored each
// distribution's total under, alongside the real outputs.
const legacyWeightKey = "\\weight"

// ExportedTable is the serializable representation of a Table.
type ExportedTable struct {
	Version     int             `json:"version"`
	Transitions []ExportedInput `json:"transitions"`
}

// ExportedInput is the serializable representation of one input token and
// its distribution, used within an ExportedTable.
type ExportedInput struct {
	Input   string           `json:"input"`
	Total   int              `json:"total"`
	Outputs []ExportedOutput `json:"outputs"`
}

// ExportedOutput is a single output token and its count.
type ExportedOutput struct {
	Token string `json:"token"`
	Count int    `json:"count"`
}

// EncodeTable serializes t. Inputs are written in sorted order and outputs in
// insertion order, so DecodeTable(EncodeTable(t)) is Equal to t. Tokens that
// are not valid UTF-8 cannot be represented in JSON and are rejected with
// ErrInvalidTable; Tokenize never produces them.
func EncodeTable(t *Table) ([]byte, error) {
	exported := ExportedTable{
		Version:     encodingVersion,
		Transitions: make([]ExportedInput, 0, t.Len()),
	}
	for _, in := range t.Inputs() {
		if !utf8.ValidString(in) {
			return nil, fmt.Errorf("%w: input %q is not valid UTF-8", ErrInvalidTable, in)
		}
		d := t.dists[in]
		ei := ExportedInput{
			Input:   in,
			Total:   d.total,
			Outputs: make([]ExportedOutput, 0, len(d.order)),
		}
		for _, out := range d.order {
			if !utf8.ValidString(out) {
				return nil, fmt.Errorf("%w: output %q of %q is not valid UTF-8", ErrInvalidTable, out, in)
			}
			ei.Outputs = append(ei.Outputs, ExportedOutput{Token: out, Count: d.counts[out]})
		}
		exported.Transitions = append(exported.Transitions, ei)
	}
	data, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("failed to encode table: %w", err)
	}
	return data, nil
}

// DecodeTable parses data produced by EncodeTable. It also accepts the legacy
// format, a JSON object mapping each input to an object of output counts plus
// a reserved "\weight" total. Every decoded table is checked against the
// weight invariants and rejected with ErrInvalidTable if it violates them.
func DecodeTable(data []byte) (*Table, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}
	if v, ok := probe["version"]; ok && isNumber(v) {
		return decodeVersioned(data)
	}
	return decodeLegacy(probe)
}

func decodeVersioned(data []byte) (*Table, error) {
	var exported ExportedTable
	if err := json.Unmarshal(data, &exported); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}
	if exported.Version != encodingVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidTable, exported.Version)
	}

	t := NewTable()
	for _, ei := range exported.Transitions {
		if _, dup := t.dists[ei.Input]; dup {
			return nil, fmt.Errorf("%w: duplicate input %q", ErrInvalidTable, ei.Input)
		}
		if len(ei.Outputs) == 0 {
			return nil, fmt.Errorf("%w: input %q has no outputs", ErrInvalidTable, ei.Input)
		}
		d := newDistribution()
		for _, eo := range ei.Outputs {
			if eo.Count <= 0 {
				return nil, fmt.Errorf("%w: %q -> %q has count %d", ErrInvalidTable, ei.Input, eo.Token, eo.Count)
			}
			if _, dup := d.counts[eo.Token]; dup {
				return nil, fmt.Errorf("%w: duplicate output %q for input %q", ErrInvalidTable, eo.Token, ei.Input)
			}
			d.add(eo.Token, eo.Count)
		}
		if d.total != ei.Total {
			return nil, fmt.Errorf("%w: input %q total %d does not match counts %d", ErrInvalidTable, ei.Input, ei.Total, d.total)
		}
		t.dists[ei.Input] = d
	}
	return t, nil
}

func decodeLegacy(probe map[string]json.RawMessage) (*Table, error) {
	t := NewTable()
	for in, raw := range probe {
		var outputs map[string]int
		if err := json.Unmarshal(raw, &outputs); err != nil {
			return nil, fmt.Errorf("failed to decode legacy distribution for %q: %w", in, err)
		}
		// Go maps lose the original output order; sort for a stable walk.
		tokens := make([]string, 0, len(outputs))
		for out := range outputs {
			if out != legacyWeightKey {
				tokens = append(tokens, out)
			}
		}
		sort.Strings(tokens)

		d := newDistribution()
		for _, out := range tokens {
			// The legacy writer could leave non-positive counts behind.
			if c := outputs[out]; c > 0 {
				d.add(out, c)
			}
		}
		if d.total == 0 {
			continue
		}
		t.dists[in] = d
	}
	return t, nil
}

func isNumber(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}
