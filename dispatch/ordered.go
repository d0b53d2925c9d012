package dispatch

import (
	"bytes"
	"encoding/json"
)

// OrderedObject marshals to a JSON object whose keys appear in exactly
// the order given, not the sorted order encoding/json normally applies
// to map[string]interface{}. The dispatch engine needs this because
// §4.5 requires field order to match the plan's field order.
type OrderedObject struct {
	fields []string
	values map[string]interface{}
}

// NewOrderedObject builds an OrderedObject from a field-order slice and
// the corresponding values, keyed by field name.
func NewOrderedObject(fieldOrder []string, values map[string]interface{}) *OrderedObject {
	return &OrderedObject{fields: fieldOrder, values: values}
}

// MarshalJSON implements json.Marshaler, emitting keys in field order.
func (o *OrderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, field := range o.fields {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := json.Marshal(field)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := json.Marshal(o.values[field])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
