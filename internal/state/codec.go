package state

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxFieldLen bounds the name and version lines in bytes.
const DefaultMaxFieldLen = 255

// minLineBuf keeps numeric values readable under a small MaxFieldLen.
const minLineBuf = 64

// Codec reads and writes the four-line state format:
//
//	<name>\n
//	<version>\n
//	<pid>\n
//	<event_counter>\n
//
// The zero value is ready to use.
type Codec struct {
	// MaxFieldLen limits name and version; <= 0 means DefaultMaxFieldLen.
	MaxFieldLen int
}

func (c Codec) maxField() int {
	if c.MaxFieldLen <= 0 {
		return DefaultMaxFieldLen
	}
	return c.MaxFieldLen
}

// Validate reports whether s can be written and read back unchanged.
func (c Codec) Validate(s PersistedState) error {
	if err := c.validateText("name", s.Name); err != nil {
		return err
	}
	return c.validateText("version", s.Version)
}

func (c Codec) validateText(field, v string) error {
	if strings.ContainsAny(v, "\r\n") {
		return &ValidationError{Field: field, Reason: "must not contain line breaks"}
	}
	if len(v) > c.maxField() {
		return &ValidationError{Field: field, Reason: "exceeds " + strconv.Itoa(c.maxField()) + " bytes"}
	}
	return nil
}

// Marshal returns the encoded form of s.
func (c Codec) Marshal(s PersistedState) ([]byte, error) {
	if err := c.Validate(s); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.Grow(len(s.Name) + len(s.Version) + 24)
	b.WriteString(s.Name)
	b.WriteByte('\n')
	b.WriteString(s.Version)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatUint(uint64(s.PID), 10))
	b.WriteByte('\n')
	b.WriteString(strconv.FormatUint(uint64(s.EventCounter), 10))
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Encode writes s to w in a single Write call.
func (c Codec) Encode(w io.Writer, s PersistedState) error {
	data, err := c.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Unmarshal decodes data.
func (c Codec) Unmarshal(data []byte) (PersistedState, error) {
	return c.Decode(bytes.NewReader(data))
}

// Decode reads name, version and the numeric section from r in that order.
// It returns either a fully populated record or an error, never a partial one.
// A single carriage return before each newline is dropped.
func (c Codec) Decode(r io.Reader) (PersistedState, error) {
	limit := c.maxField()
	bufMax := limit
	if bufMax < minLineBuf {
		bufMax = minLineBuf
	}
	sp := &splitter{}
	sc := bufio.NewScanner(r)
	sc.Split(sp.split)
	// +2 leaves room for "\r\n" so an exact-limit line still fits.
	sc.Buffer(make([]byte, 0, bufMax+2), bufMax+2)

	name, err := readField(sc, 1, "name", limit)
	if err != nil {
		return PersistedState{}, err
	}
	version, err := readField(sc, 2, "version", limit)
	if err != nil {
		return PersistedState{}, err
	}

	// pid and event_counter are whitespace separated; newline counts as whitespace.
	sp.tokens = true
	var nums []token
	line := 3
	for sc.Scan() {
		text := sc.Text()
		if text == "\n" {
			line++
			continue
		}
		if len(nums) == 2 {
			return PersistedState{}, &FormatError{Line: line, Reason: "unexpected data after event counter"}
		}
		nums = append(nums, token{text: text, line: line})
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return PersistedState{}, &FormatError{Line: line, Reason: "numeric value too long"}
		}
		return PersistedState{}, &IOError{Op: "read", Err: err}
	}
	if len(nums) < 2 {
		return PersistedState{}, &FormatError{Line: 3, Reason: "expected pid and event counter, got " + strconv.Itoa(len(nums)) + " value(s)"}
	}
	pid, err := parseUint32(nums[0], "pid")
	if err != nil {
		return PersistedState{}, err
	}
	counter, err := parseUint32(nums[1], "event counter")
	if err != nil {
		return PersistedState{}, err
	}
	return PersistedState{Name: name, Version: version, PID: pid, EventCounter: counter}, nil
}

func readField(sc *bufio.Scanner, line int, field string, limit int) (string, error) {
	if !sc.Scan() {
		if err := scanErr(sc, line); err != nil {
			return "", err
		}
		return "", &FormatError{Line: line, Reason: "missing " + field + " line"}
	}
	v := sc.Text()
	if strings.ContainsRune(v, '\r') {
		return "", &FormatError{Line: line, Reason: field + " contains a carriage return"}
	}
	if len(v) > limit {
		return "", &FormatError{Line: line, Reason: field + " exceeds " + strconv.Itoa(limit) + " bytes"}
	}
	return v, nil
}

func scanErr(sc *bufio.Scanner, line int) error {
	err := sc.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bufio.ErrTooLong):
		return &FormatError{Line: line, Reason: "line too long"}
	default:
		return &IOError{Op: "read", Err: err}
	}
}

// splitter yields lines until tokens is set, then whitespace separated
// values with each newline returned as its own "\n" token. Runs of other
// whitespace are consumed without a token, so their length is unbounded.
type splitter struct {
	tokens bool
}

func (sp *splitter) split(data []byte, atEOF bool) (int, []byte, error) {
	if !sp.tokens {
		return bufio.ScanLines(data, atEOF)
	}
	skip := 0
	for skip < len(data) && data[skip] != '\n' && isSpace(data[skip]) {
		skip++
	}
	switch {
	case skip > 0:
		return skip, nil, nil
	case len(data) == 0:
		return 0, nil, nil
	case data[0] == '\n':
		return 1, data[:1], nil
	}
	for i, b := range data {
		if isSpace(b) {
			return i, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

type token struct {
	text string
	line int
}

func parseUint32(tok token, field string) (uint32, error) {
	v, err := strconv.ParseUint(tok.text, 10, 32)
	if err != nil {
		return 0, &FormatError{Line: tok.line, Reason: "invalid " + field + " " + strconv.Quote(tok.text)}
	}
	return uint32(v), nil
}

var defaultCodec Codec

// Encode writes s to w using the default codec.
func Encode(w io.Writer, s PersistedState) error { return defaultCodec.Encode(w, s) }

// Decode reads a record from r using the default codec.
func Decode(r io.Reader) (PersistedState, error) { return defaultCodec.Decode(r) }
