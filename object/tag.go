package object

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/opencore-vcs/gitcore/errs"
)

// Tag is the decoded form of an annotated tag object.
type Tag struct {
	ObjectID ID
	Type     Type
	Name     string
	Tagger   Signature // zero value if absent
	HasTagger bool
	GPGSig   string
	Message  string
}

// EncodeTag serializes t in the canonical header-then-blank-line-then-
// message layout.
func EncodeTag(t *Tag) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "object %s\n", t.ObjectID)
	fmt.Fprintf(&buf, "type %s\n", t.Type)
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	if t.HasTagger {
		fmt.Fprintf(&buf, "tagger %s\n", t.Tagger)
	}
	if t.GPGSig != "" {
		buf.WriteString("gpgsig ")
		writeContinuation(&buf, t.GPGSig)
	}
	buf.WriteByte('\n')
	buf.WriteString(t.Message)

	return buf.Bytes()
}

// DecodeTag parses tag content into a Tag.
func DecodeTag(content []byte) (*Tag, error) {
	r := bufio.NewReader(bytes.NewReader(content))
	t := &Tag{}

	for {
		line, err := readHeaderLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}

		field, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("%w: malformed tag header %q", errs.ErrCorruptObject, line)
		}

		switch field {
		case "object":
			id, err := ParseID(value)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid object id: %v", errs.ErrCorruptObject, err)
			}
			t.ObjectID = id
		case "type":
			typ, err := ParseType(value)
			if err != nil {
				return nil, err
			}
			t.Type = typ
		case "tag":
			t.Name = value
		case "tagger":
			sig, err := ParseSignature(value)
			if err != nil {
				return nil, err
			}
			t.Tagger = sig
			t.HasTagger = true
		case "gpgsig":
			sig, err := readContinuation(r, value)
			if err != nil {
				return nil, err
			}
			t.GPGSig = sig
		default:
			// forward-compatible: ignore unknown headers.
		}
	}

	msg, err := readAll(r)
	if err != nil {
		return nil, err
	}
	t.Message = msg

	return t, nil
}
