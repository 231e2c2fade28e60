package metrics

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"math"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// ScoreBundle は指標名から値への不変なマッピングです。
// 未定義の指標はNaNで保持され、JSONではnullとして表現されます。
type ScoreBundle struct {
	names  []string
	values map[string]float64
}

// NewScoreBundle builds a bundle preserving the order of names.
func NewScoreBundle(names []string, values []float64) *ScoreBundle {
	b := &ScoreBundle{
		names:  make([]string, len(names)),
		values: make(map[string]float64, len(names)),
	}
	copy(b.names, names)
	for i, n := range names {
		b.values[n] = values[i]
	}
	return b
}

// Len returns the number of metrics.
func (b *ScoreBundle) Len() int {
	return len(b.names)
}

// Names returns the metric names in scoring order.
func (b *ScoreBundle) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Get returns the value of a metric and whether the metric is present.
func (b *ScoreBundle) Get(name string) (float64, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Value returns the metric value, NaN when absent or undefined.
func (b *ScoreBundle) Value(name string) float64 {
	if v, ok := b.values[name]; ok {
		return v
	}
	return math.NaN()
}

// Defined reports whether the metric is present and not undefined.
func (b *ScoreBundle) Defined(name string) bool {
	v, ok := b.values[name]
	return ok && !math.IsNaN(v)
}

// Map returns a copy of the scores.
func (b *ScoreBundle) Map() map[string]float64 {
	out := make(map[string]float64, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the scores as an ordered object with null for undefined values.
func (b *ScoreBundle) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range b.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		v := b.values[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the format written by MarshalJSON, preserving key order.
func (b *ScoreBundle) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errors.WithStack(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.Newf("score bundle: expected object, got %v", tok)
	}
	var names []string
	var values []float64
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errors.WithStack(err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.Newf("score bundle: expected key, got %v", keyTok)
		}
		var v *float64
		if err := dec.Decode(&v); err != nil {
			return errors.Wrapf(err, "score bundle: value of %q", key)
		}
		names = append(names, key)
		if v == nil {
			values = append(values, math.NaN())
		} else {
			values = append(values, *v)
		}
	}
	*b = *NewScoreBundle(names, values)
	return nil
}

type bundleWire struct {
	Names  []string
	Values []float64
}

// GobEncode implements gob.GobEncoder.
func (b *ScoreBundle) GobEncode() ([]byte, error) {
	w := bundleWire{Names: b.names, Values: make([]float64, len(b.names))}
	for i, n := range b.names {
		w.Values[i] = b.values[n]
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (b *ScoreBundle) GobDecode(data []byte) error {
	var w bundleWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return errors.WithStack(err)
	}
	if len(w.Names) != len(w.Values) {
		return errors.NewDimensionError("ScoreBundle.GobDecode", len(w.Names), len(w.Values), 0)
	}
	*b = *NewScoreBundle(w.Names, w.Values)
	return nil
}

// MarshalZerologObject adds every score to a zerolog event.
func (b *ScoreBundle) MarshalZerologObject(e *zerolog.Event) {
	for _, n := range b.names {
		e.Float64(n, b.values[n])
	}
}
