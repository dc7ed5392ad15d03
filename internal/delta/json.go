package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func (o Op) MarshalJSON() ([]byte, error) {
	record := make(map[string]any, 2)
	switch o.Kind {
	case KindInsert:
		if o.Embed != nil {
			record["insert"] = o.Embed
		} else {
			record["insert"] = o.Text
		}
	case KindRetain:
		record["retain"] = o.N
	case KindDelete:
		record["delete"] = o.N
	default:
		return nil, fmt.Errorf("marshal op: unknown kind %d", o.Kind)
	}
	if len(o.Attributes) > 0 {
		record["attributes"] = o.Attributes
	}
	return json.Marshal(record)
}

func (o *Op) UnmarshalJSON(data []byte) error {
	op, err := parseOp(0, data)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

func (d Delta) MarshalJSON() ([]byte, error) {
	ops := d.Ops
	if ops == nil {
		ops = []Op{}
	}
	return json.Marshal(struct {
		Ops []Op `json:"ops"`
	}{Ops: ops})
}

func (d *Delta) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Parse converts the wire form of a delta into its normalized value. Both
// {"ops":[...]} and a bare array are accepted; empty input and null are the
// empty delta.
func Parse(raw []byte) (Delta, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Delta{}, nil
	}

	var records []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return Delta{}, &FormatError{Index: -1, Reason: "ops must be an array"}
		}
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return Delta{}, &FormatError{Index: -1, Reason: "invalid JSON object"}
		}
		for key := range envelope {
			if key != "ops" {
				return Delta{}, &FormatError{Index: -1, Reason: fmt.Sprintf("unknown field %q", key)}
			}
		}
		ops, ok := envelope["ops"]
		if !ok {
			return Delta{}, &FormatError{Index: -1, Reason: "missing ops"}
		}
		if err := json.Unmarshal(ops, &records); err != nil {
			return Delta{}, &FormatError{Index: -1, Reason: "ops must be an array"}
		}
	default:
		return Delta{}, &FormatError{Index: -1, Reason: "delta must be an object or an array"}
	}

	ops := make([]Op, 0, len(records))
	for i, record := range records {
		op, err := parseOp(i, record)
		if err != nil {
			return Delta{}, err
		}
		ops = append(ops, op)
	}
	return Delta{Ops: Normalize(ops)}, nil
}

func parseOp(index int, raw []byte) (Op, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Op{}, &FormatError{Index: index, Reason: "operation must be an object"}
	}

	var op Op
	tags := 0
	for key, value := range fields {
		switch key {
		case "insert":
			tags++
			op.Kind = KindInsert
			var text string
			if err := json.Unmarshal(value, &text); err == nil {
				op.Text = text
				continue
			}
			var embed map[string]any
			if err := json.Unmarshal(value, &embed); err != nil || embed == nil {
				return Op{}, &FormatError{Index: index, Reason: "insert must be a string or an object"}
			}
			op.Embed = embed
		case "retain", "delete":
			tags++
			n, err := parseLength(value)
			if err != nil {
				return Op{}, &FormatError{Index: index, Reason: fmt.Sprintf("%s: %v", key, err)}
			}
			op.N = n
			if key == "retain" {
				op.Kind = KindRetain
			} else {
				op.Kind = KindDelete
			}
		case "attributes":
			if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
				continue
			}
			var attrs Attributes
			if err := json.Unmarshal(value, &attrs); err != nil {
				return Op{}, &FormatError{Index: index, Reason: "attributes must be an object"}
			}
			op.Attributes = attrs
		default:
			return Op{}, &FormatError{Index: index, Reason: fmt.Sprintf("unknown field %q", key)}
		}
	}

	switch {
	case tags == 0:
		return Op{}, &FormatError{Index: index, Reason: "operation needs one of insert, retain or delete"}
	case tags > 1:
		return Op{}, &FormatError{Index: index, Reason: "operation sets more than one of insert, retain and delete"}
	case op.Kind == KindDelete && len(op.Attributes) > 0:
		return Op{}, &FormatError{Index: index, Reason: "delete cannot carry attributes"}
	}
	if len(op.Attributes) == 0 {
		op.Attributes = nil
	}
	return op, nil
}

func parseLength(raw json.RawMessage) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("length must be an integer")
	}
	if n < 0 {
		return 0, fmt.Errorf("negative length %d", n)
	}
	return n, nil
}
