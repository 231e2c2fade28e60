package model

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// NestingSeparator は入れ子のパラメータ名の区切り文字
const NestingSeparator = "__"

// Params はハイパーパラメータの名前から値へのマップです。
// 探索空間からのサンプル（int, int64, float64, string, bool, nil）をそのまま受け取ります。
type Params map[string]interface{}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the parameters deterministically.
func (p Params) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range p.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, p[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Split separates p into parameters addressed to the receiver and those
// addressed to the nested component prefix ("prefix__name" → "name").
func (p Params) Split(prefix string) (own, nested Params) {
	own, nested = Params{}, Params{}
	pre := prefix + NestingSeparator
	for k, v := range p {
		if strings.HasPrefix(k, pre) {
			nested[strings.TrimPrefix(k, pre)] = v
			continue
		}
		own[k] = v
	}
	return own, nested
}

// Prefixed returns p with every key prefixed by "prefix__".
func (p Params) Prefixed(prefix string) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[prefix+NestingSeparator+k] = v
	}
	return out
}

// Merge copies src into p, overwriting existing keys.
func (p Params) Merge(src Params) Params {
	for k, v := range src {
		p[k] = v
	}
	return p
}

// ToInt coerces v to int. Integral floats are accepted.
func ToInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, errors.NewValidationError(name, "expected an integer", v)
		}
		return int(x), nil
	default:
		return 0, errors.NewValidationError(name, "expected an integer", v)
	}
}

// ToInt64 coerces v to int64.
func ToInt64(name string, v interface{}) (int64, error) {
	i, err := ToInt(name, v)
	return int64(i), err
}

// ToFloat coerces v to float64.
func ToFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, errors.NewValidationError(name, "expected a number", v)
	}
}

// ToBool coerces v to bool.
func ToBool(name string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewValidationError(name, "expected a bool", v)
	}
	return b, nil
}

// ToString coerces v to string.
func ToString(name string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(name, "expected a string", v)
	}
	return s, nil
}

// UnknownParam is the error returned for a parameter name the model does not define.
func UnknownParam(model, name string, v interface{}) error {
	return errors.NewValidationError(name, fmt.Sprintf("unknown parameter for %s", model), v)
}

func typeName(m interface{}) string {
	t := reflect.TypeOf(m)
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
