package contracts

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Params holds the named parameters of an operation in insertion order.
// Params are not safe for concurrent mutation; a run owns its Params.
// Read methods accept a nil receiver.
type Params struct {
	values *orderedmap.OrderedMap[string, any]
}

// NewParams creates params from alternating name/value pairs.
// It panics on an odd pair count or a non-string name.
func NewParams(kv ...any) *Params {
	if len(kv)%2 != 0 {
		panic("contracts: NewParams needs name/value pairs")
	}

	p := &Params{values: orderedmap.New[string, any]()}
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("contracts: parameter name %v is %T, not string", kv[i], kv[i]))
		}
		p.values.Set(name, kv[i+1])
	}
	return p
}

// ParamsFromMap creates params from a map. Go maps are unordered, so names
// are inserted in the order given by keys, followed by any remaining names.
func ParamsFromMap(m map[string]any, keys ...string) *Params {
	p := NewParams()
	for _, k := range keys {
		if v, ok := m[k]; ok {
			p.values.Set(k, v)
		}
	}
	for k, v := range m {
		if !p.Has(k) {
			p.values.Set(k, v)
		}
	}
	return p
}

// Set stores a value, keeping the original position of an existing name
func (p *Params) Set(name string, value any) *Params {
	p.values.Set(name, value)
	return p
}

// Get retrieves a value by name
func (p *Params) Get(name string) (any, bool) {
	if p == nil || p.values == nil {
		return nil, false
	}
	return p.values.Get(name)
}

// GetString retrieves a string value by name
func (p *Params) GetString(name string) (string, bool) {
	value, exists := p.Get(name)
	if !exists {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// GetInt retrieves an int value by name
func (p *Params) GetInt(name string) (int, bool) {
	value, exists := p.Get(name)
	if !exists {
		return 0, false
	}
	i, ok := value.(int)
	return i, ok
}

// Has reports whether a name is present
func (p *Params) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// Delete removes a value by name
func (p *Params) Delete(name string) {
	if p == nil || p.values == nil {
		return
	}
	p.values.Delete(name)
}

// Len returns the number of parameters
func (p *Params) Len() int {
	if p == nil || p.values == nil {
		return 0
	}
	return p.values.Len()
}

// Keys returns the parameter names in insertion order
func (p *Params) Keys() []string {
	keys := make([]string, 0, p.Len())
	if p.Len() == 0 {
		return keys
	}
	for pair := p.values.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// ToMap copies the parameters into a plain map
func (p *Params) ToMap() map[string]any {
	m := make(map[string]any, p.Len())
	if p.Len() == 0 {
		return m
	}
	for pair := p.values.Oldest(); pair != nil; pair = pair.Next() {
		m[pair.Key] = pair.Value
	}
	return m
}

// Clone creates a shallow copy that preserves order
func (p *Params) Clone() *Params {
	c := NewParams()
	if p.Len() == 0 {
		return c
	}
	for pair := p.values.Oldest(); pair != nil; pair = pair.Next() {
		c.values.Set(pair.Key, pair.Value)
	}
	return c
}

// Replace makes p hold exactly the parameters of src, in src's order
func (p *Params) Replace(src *Params) {
	if p == nil {
		return
	}
	p.values = orderedmap.New[string, any]()
	if src.Len() == 0 {
		return
	}
	for pair := src.values.Oldest(); pair != nil; pair = pair.Next() {
		p.values.Set(pair.Key, pair.Value)
	}
}

// Decode copies the parameters into a struct, matching `param` tags and
// converting weakly typed values where possible
func (p *Params) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "param",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create params decoder: %w", err)
	}

	if err := decoder.Decode(p.ToMap()); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

// MarshalJSON encodes the parameters as a JSON object in insertion order
func (p *Params) MarshalJSON() ([]byte, error) {
	if p.Len() == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(p.values)
}

// UnmarshalJSON decodes a JSON object, keeping the document order
func (p *Params) UnmarshalJSON(data []byte) error {
	values := orderedmap.New[string, any]()
	if err := json.Unmarshal(data, values); err != nil {
		return err
	}
	p.values = values
	return nil
}
