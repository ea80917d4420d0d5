package object

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/opencore-vcs/gitcore/errs"
)

// Signature is a "name <email> epoch tz" identity line, as used for the
// author/committer/tagger fields.
type Signature struct {
	Name   string
	Email  string
	When   int64  // epoch seconds
	TZ     string // textual offset, e.g. "+0000" or "-0700"
}

// String renders the signature line value (without the leading field
// name), e.g. "Jane Doe <jane@example.com> 1700000000 +0000".
func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When, s.TZ)
}

// ParseSignature parses a rendered signature line value. Real-world
// history sometimes has an email with no matching '<' '>' pair; in that
// case the whole remainder before the trailing epoch/tz pair is treated
// as the name and the email is left empty, matching git's own tolerance.
func ParseSignature(s string) (Signature, error) {
	open := strings.LastIndexByte(s, '<')
	close := strings.LastIndexByte(s, '>')
	if open == -1 || close == -1 || close < open {
		fields := strings.Fields(s)
		if len(fields) < 2 {
			return Signature{}, fmt.Errorf("%w: malformed signature %q", errs.ErrCorruptObject, s)
		}
		when, tz, err := parseEpochTZ(fields[len(fields)-2], fields[len(fields)-1])
		if err != nil {
			return Signature{}, err
		}
		return Signature{Name: strings.TrimSpace(strings.Join(fields[:len(fields)-2], " ")), When: when, TZ: tz}, nil
	}

	name := strings.TrimSpace(s[:open])
	email := s[open+1 : close]
	rest := strings.Fields(s[close+1:])
	if len(rest) != 2 {
		return Signature{}, fmt.Errorf("%w: malformed signature %q", errs.ErrCorruptObject, s)
	}
	when, tz, err := parseEpochTZ(rest[0], rest[1])
	if err != nil {
		return Signature{}, err
	}
	return Signature{Name: name, Email: email, When: when, TZ: tz}, nil
}

func parseEpochTZ(epochStr, tz string) (int64, string, error) {
	when, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: invalid epoch %q", errs.ErrCorruptObject, epochStr)
	}
	return when, tz, nil
}

// Commit is the decoded form of a commit object.
type Commit struct {
	TreeID    ID
	ParentIDs []ID
	Author    Signature
	Committer Signature
	Encoding  string // optional, empty if absent
	GPGSig    string // optional, empty if absent; stored verbatim with continuation SPs stripped
	Message   string
}

// EncodeCommit serializes c in the canonical header-then-blank-line-then-
// message layout.
func EncodeCommit(c *Commit) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "tree %s\n", c.TreeID)
	for _, p := range c.ParentIDs {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "committer %s\n", c.Committer)
	if c.Encoding != "" {
		fmt.Fprintf(&buf, "encoding %s\n", c.Encoding)
	}
	if c.GPGSig != "" {
		buf.WriteString("gpgsig ")
		writeContinuation(&buf, c.GPGSig)
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)

	return buf.Bytes()
}

// writeContinuation writes a (possibly multi-line) header value, with
// every line after the first indented by a single leading space, as git
// does for "gpgsig".
func writeContinuation(buf *bytes.Buffer, value string) {
	lines := strings.Split(value, "\n")
	for i, line := range lines {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(line)
		if i != len(lines)-1 {
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')
}

// DecodeCommit parses commit content into a Commit.
func DecodeCommit(content []byte) (*Commit, error) {
	r := bufio.NewReader(bytes.NewReader(content))
	c := &Commit{}

	for {
		line, err := readHeaderLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break // blank line: end of headers
		}

		field, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("%w: malformed commit header %q", errs.ErrCorruptObject, line)
		}

		switch field {
		case "tree":
			id, err := ParseID(value)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid tree id: %v", errs.ErrCorruptObject, err)
			}
			c.TreeID = id
		case "parent":
			id, err := ParseID(value)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid parent id: %v", errs.ErrCorruptObject, err)
			}
			c.ParentIDs = append(c.ParentIDs, id)
		case "author":
			sig, err := ParseSignature(value)
			if err != nil {
				return nil, err
			}
			c.Author = sig
		case "committer":
			sig, err := ParseSignature(value)
			if err != nil {
				return nil, err
			}
			c.Committer = sig
		case "encoding":
			c.Encoding = value
		case "gpgsig":
			sig, err := readContinuation(r, value)
			if err != nil {
				return nil, err
			}
			c.GPGSig = sig
		default:
			// Unknown headers are tolerated (future-proofing, matches
			// git's own forward compatibility for extension headers)
			// but not retained: this module has no slot for them.
		}
	}

	msg, err := readAll(r)
	if err != nil {
		return nil, err
	}
	c.Message = msg

	return c, nil
}

// readHeaderLine reads one header line without its trailing newline. It
// returns "" for a blank line (the header/message separator). It never
// returns an error: at the end of the stream a partial final line is
// returned as is, and an empty remainder yields "", like a separator.
func readHeaderLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		// A missing trailing newline on the final header line is
		// treated as that line, not an error, so a message-less
		// object with no trailing blank line still parses.
		if len(line) > 0 {
			return line, nil
		}
		return "", nil
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// readContinuation reads a multi-line header value (e.g. gpgsig) whose
// continuation lines are prefixed with a single space, stripping that
// prefix and stopping at the first line without it.
func readContinuation(r *bufio.Reader, first string) (string, error) {
	var lines []string
	lines = append(lines, first)
	for {
		peek, err := r.Peek(1)
		if err != nil || len(peek) == 0 || peek[0] != ' ' {
			break
		}
		line, err := r.ReadString('\n')
		if err != nil {
			line = strings.TrimSuffix(line, "\n")
			lines = append(lines, strings.TrimPrefix(line, " "))
			break
		}
		lines = append(lines, strings.TrimPrefix(strings.TrimSuffix(line, "\n"), " "))
	}
	return strings.Join(lines, "\n"), nil
}

func readAll(r *bufio.Reader) (string, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r)
	if err != nil {
		return "", fmt.Errorf("%w: reading message: %v", errs.ErrCorruptObject, err)
	}
	return buf.String(), nil
}
