// Package delta implements the rich-text operation model shared by editors and
// the sync engine. Documents and edits are both sequences of insert, retain and
// delete operations, serialized in Quill's delta JSON shape.
package delta

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindRetain
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindRetain:
		return "retain"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Attributes maps formatting keys to values. A nil value on a retain removes
// the attribute from the text it covers.
type Attributes map[string]any

// Op is a single operation. Text inserts are measured in code points; an
// embed insert always has length 1.
type Op struct {
	Kind       Kind
	Text       string
	Embed      map[string]any
	N          int
	Attributes Attributes
}

func (o Op) Len() int {
	switch o.Kind {
	case KindInsert:
		if o.Embed != nil {
			return 1
		}
		return utf8.RuneCountInString(o.Text)
	case KindRetain, KindDelete:
		return o.N
	default:
		return 0
	}
}

func (o Op) clone() Op {
	out := o
	if o.Attributes != nil {
		out.Attributes = make(Attributes, len(o.Attributes))
		for k, v := range o.Attributes {
			out.Attributes[k] = v
		}
	}
	if o.Embed != nil {
		out.Embed = make(map[string]any, len(o.Embed))
		for k, v := range o.Embed {
			out.Embed[k] = v
		}
	}
	return out
}

func (o Op) equal(other Op) bool {
	if o.Kind != other.Kind || o.Text != other.Text || o.N != other.N {
		return false
	}
	if (o.Embed == nil) != (other.Embed == nil) || !reflect.DeepEqual(o.Embed, other.Embed) {
		return false
	}
	return attributesEqual(o.Attributes, other.Attributes)
}

// Delta is either a document (inserts only) or an edit relative to one.
type Delta struct {
	Ops []Op
}

// New returns an empty delta for use with the builder methods.
func New() *Delta {
	return &Delta{}
}

func (d *Delta) Insert(text string, attrs Attributes) *Delta {
	return d.push(Op{Kind: KindInsert, Text: text, Attributes: attrs})
}

func (d *Delta) InsertEmbed(embed map[string]any, attrs Attributes) *Delta {
	return d.push(Op{Kind: KindInsert, Embed: embed, Attributes: attrs})
}

func (d *Delta) Retain(n int, attrs Attributes) *Delta {
	return d.push(Op{Kind: KindRetain, N: n, Attributes: attrs})
}

func (d *Delta) Delete(n int) *Delta {
	return d.push(Op{Kind: KindDelete, N: n})
}

// push appends op, merging it into the tail where the result is equivalent.
func (d *Delta) push(op Op) *Delta {
	if op.Len() <= 0 {
		return d
	}
	n := len(d.Ops)
	if n > 0 {
		last := &d.Ops[n-1]
		if op.Kind == KindDelete && last.Kind == KindDelete {
			last.N += op.N
			return d
		}
		// Inserts are always ordered before an adjacent delete.
		if last.Kind == KindDelete && op.Kind == KindInsert {
			if n >= 2 && mergeable(d.Ops[n-2], op) {
				d.Ops[n-2].Text += op.Text
				return d
			}
			d.Ops = append(d.Ops, Op{})
			d.Ops[n] = d.Ops[n-1]
			d.Ops[n-1] = op.clone()
			return d
		}
		if mergeable(*last, op) {
			if op.Kind == KindInsert {
				last.Text += op.Text
			} else {
				last.N += op.N
			}
			return d
		}
	}
	d.Ops = append(d.Ops, op.clone())
	return d
}

func mergeable(a, b Op) bool {
	if a.Kind != b.Kind || a.Kind == KindDelete {
		return false
	}
	if a.Kind == KindInsert && (a.Embed != nil || b.Embed != nil) {
		return false
	}
	return attributesEqual(a.Attributes, b.Attributes)
}

// chop drops a trailing retain that carries no attributes.
func (d *Delta) chop() Delta {
	if n := len(d.Ops); n > 0 {
		last := d.Ops[n-1]
		if last.Kind == KindRetain && len(last.Attributes) == 0 {
			d.Ops = d.Ops[:n-1]
		}
	}
	return *d
}

// Length is the sum of insert and retain lengths.
func (d Delta) Length() int {
	total := 0
	for _, op := range d.Ops {
		if op.Kind != KindDelete {
			total += op.Len()
		}
	}
	return total
}

// span is how many positions of the base an edit consumes.
func (d Delta) span() int {
	total := 0
	for _, op := range d.Ops {
		if op.Kind == KindRetain || op.Kind == KindDelete {
			total += op.N
		}
	}
	return total
}

// IsDocument reports whether d contains only inserts.
func (d Delta) IsDocument() bool {
	for _, op := range d.Ops {
		if op.Kind != KindInsert {
			return false
		}
	}
	return true
}

// Text returns the plain text of a document, skipping embeds.
func (d Delta) Text() string {
	var b strings.Builder
	for _, op := range d.Ops {
		if op.Kind == KindInsert && op.Embed == nil {
			b.WriteString(op.Text)
		}
	}
	return b.String()
}

// Digest is a stable checksum of the delta's wire form.
func (d Delta) Digest() string {
	payload, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Validate checks the shape of a delta built in code. Deltas produced by
// Parse always validate.
func (d Delta) Validate() error {
	for i, op := range d.Ops {
		switch op.Kind {
		case KindInsert:
			if op.Embed != nil && op.Text != "" {
				return &FormatError{Index: i, Reason: "insert cannot carry both text and embed"}
			}
			if op.N != 0 {
				return &FormatError{Index: i, Reason: "insert cannot carry a length"}
			}
		case KindRetain, KindDelete:
			if op.N < 0 {
				return &FormatError{Index: i, Reason: fmt.Sprintf("negative %s length %d", op.Kind, op.N)}
			}
			if op.Text != "" || op.Embed != nil {
				return &FormatError{Index: i, Reason: fmt.Sprintf("%s cannot carry insert content", op.Kind)}
			}
			if op.Kind == KindDelete && len(op.Attributes) > 0 {
				return &FormatError{Index: i, Reason: "delete cannot carry attributes"}
			}
		default:
			return &FormatError{Index: i, Reason: "unknown operation kind"}
		}
	}
	return nil
}

// Normalize merges adjacent compatible operations and drops zero-length ones.
func Normalize(ops []Op) []Op {
	out := &Delta{Ops: make([]Op, 0, len(ops))}
	for _, op := range ops {
		out.push(op)
	}
	return out.Ops
}

// Equal compares the normalized forms of a and b.
func Equal(a, b Delta) bool {
	left, right := Normalize(a.Ops), Normalize(b.Ops)
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if !left[i].equal(right[i]) {
			return false
		}
	}
	return true
}

func attributesEqual(a, b Attributes) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func composeAttributes(a, b Attributes, keepNull bool) Attributes {
	out := make(Attributes, len(a)+len(b))
	for k, v := range b {
		if v == nil && !keepNull {
			continue
		}
		out[k] = v
	}
	for k, v := range a {
		if _, ok := b[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
