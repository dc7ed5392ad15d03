package delta

import "math"

const infinity = math.MaxInt

type iterator struct {
	ops    []Op
	index  int
	offset int
}

func newIterator(ops []Op) *iterator {
	return &iterator{ops: ops}
}

// hasNext is based on position, not length: a single op may legitimately be
// infinity long.
func (it *iterator) hasNext() bool {
	return it.index < len(it.ops)
}

func (it *iterator) peekLength() int {
	if it.index < len(it.ops) {
		return it.ops[it.index].Len() - it.offset
	}
	return infinity
}

// peekKind reports retain once the iterator is exhausted: every delta ends
// with an implicit retain over the rest of its base.
func (it *iterator) peekKind() Kind {
	if it.index < len(it.ops) {
		return it.ops[it.index].Kind
	}
	return KindRetain
}

func (it *iterator) next(length int) Op {
	if it.index >= len(it.ops) {
		return Op{Kind: KindRetain, N: length}
	}
	op := it.ops[it.index]
	offset := it.offset
	remaining := op.Len() - offset
	if length >= remaining {
		length = remaining
		it.index++
		it.offset = 0
	} else {
		it.offset += length
	}
	switch op.Kind {
	case KindDelete:
		return Op{Kind: KindDelete, N: length}
	case KindRetain:
		return Op{Kind: KindRetain, N: length, Attributes: op.Attributes}
	default:
		if op.Embed != nil {
			return op
		}
		return Op{Kind: KindInsert, Text: sliceRunes(op.Text, offset, length), Attributes: op.Attributes}
	}
}

func sliceRunes(s string, start, n int) string {
	if start == 0 && n >= len(s) {
		return s
	}
	begin, end := -1, len(s)
	i := 0
	for pos := range s {
		if i == start {
			begin = pos
		}
		if i == start+n {
			end = pos
			break
		}
		i++
	}
	if begin < 0 {
		return ""
	}
	return s[begin:end]
}

// Compose applies edit to the document base. It fails with *OutOfRangeError
// when edit retains or deletes past the end of base, and leaves base untouched
// in every case.
func Compose(base, edit Delta) (Delta, error) {
	if !base.IsDocument() {
		return Delta{}, &FormatError{Index: -1, Reason: "base is not a document"}
	}
	if err := edit.Validate(); err != nil {
		return Delta{}, err
	}
	return compose(base, edit, true)
}

// ComposeEdits merges two sequential edits into one. Positions past the end
// of a flow through its implicit trailing retain, so the result is total.
func ComposeEdits(a, b Delta) Delta {
	out, _ := compose(a, b, false)
	return out
}

func compose(a, b Delta, strict bool) (Delta, error) {
	thisIter := newIterator(a.Ops)
	otherIter := newIterator(b.Ops)
	out := &Delta{Ops: make([]Op, 0, len(a.Ops)+len(b.Ops))}

	for thisIter.hasNext() || otherIter.hasNext() {
		if otherIter.peekKind() == KindInsert {
			out.push(otherIter.next(infinity))
			continue
		}
		if thisIter.peekKind() == KindDelete {
			out.push(thisIter.next(infinity))
			continue
		}
		if strict && !thisIter.hasNext() {
			return Delta{}, &OutOfRangeError{Length: a.Length(), Span: b.span()}
		}

		length := min(thisIter.peekLength(), otherIter.peekLength())
		thisOp := thisIter.next(length)
		otherOp := otherIter.next(length)

		switch otherOp.Kind {
		case KindRetain:
			newOp := thisOp
			if thisOp.Kind == KindRetain {
				newOp = Op{Kind: KindRetain, N: length}
			}
			newOp.Attributes = composeAttributes(thisOp.Attributes, otherOp.Attributes, thisOp.Kind == KindRetain)
			out.push(newOp)
		case KindDelete:
			// An insert followed by its deletion cancels out.
			if thisOp.Kind == KindRetain {
				out.push(otherOp)
			}
		}
	}
	return out.chop(), nil
}
