// Package jsonw is a small streaming JSON writer that emits keys in call
// order. encoding/json sorts map keys and reorders nothing for structs, but
// incident.json needs a field order that is part of the file format, plus an
// explicit null for absent values, so documents are written token by token.
package jsonw

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"
)

// ErrMisuse reports a structurally invalid call sequence, such as a value
// inside an object without a preceding Name.
var ErrMisuse = errors.New("jsonw: invalid call sequence")

type frame struct {
	object         bool
	first          bool
	expectingValue bool
}

// Writer emits a single JSON document. The first error is sticky: once a
// write fails, every later call is a no-op and Err/Flush report it.
type Writer struct {
	w     *bufio.Writer
	stack []frame
	done  bool
	err   error
}

// New returns a Writer that writes to w.
func New(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Err returns the first error encountered.
func (w *Writer) Err() error { return w.err }

// Flush flushes buffered output and reports the sticky error, if any.
// Flushing with open objects or arrays is misuse.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if len(w.stack) != 0 {
		w.err = fmt.Errorf("%w: %d unclosed containers", ErrMisuse, len(w.stack))
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.err = err
	}
	return w.err
}

// BeginObject opens an object.
func (w *Writer) BeginObject() *Writer {
	if w.beforeValue() {
		w.raw("{")
		w.stack = append(w.stack, frame{object: true, first: true})
	}
	return w
}

// EndObject closes the innermost object.
func (w *Writer) EndObject() *Writer {
	return w.end(true, "}")
}

// BeginArray opens an array.
func (w *Writer) BeginArray() *Writer {
	if w.beforeValue() {
		w.raw("[")
		w.stack = append(w.stack, frame{first: true})
	}
	return w
}

// EndArray closes the innermost array.
func (w *Writer) EndArray() *Writer {
	return w.end(false, "]")
}

// Name writes an object key. The next call must write its value.
func (w *Writer) Name(name string) *Writer {
	if w.err != nil {
		return w
	}
	top := w.top()
	if top == nil || !top.object || top.expectingValue {
		w.misuse("Name %q outside object or after another Name", name)
		return w
	}
	if !top.first {
		w.raw(",")
	}
	top.first = false
	w.quote(name)
	w.raw(":")
	top.expectingValue = true
	return w
}

// String writes a string value.
func (w *Writer) String(v string) *Writer {
	if w.beforeValue() {
		w.quote(v)
	}
	return w
}

// Int writes an integer value.
func (w *Writer) Int(v int64) *Writer {
	if w.beforeValue() {
		w.raw(strconv.FormatInt(v, 10))
	}
	return w
}

// Bool writes a boolean value.
func (w *Writer) Bool(v bool) *Writer {
	if w.beforeValue() {
		w.raw(strconv.FormatBool(v))
	}
	return w
}

// Null writes an explicit null.
func (w *Writer) Null() *Writer {
	if w.beforeValue() {
		w.raw("null")
	}
	return w
}

// StringOrNull writes v, or null when v is empty.
func (w *Writer) StringOrNull(v string) *Writer {
	if v == "" {
		return w.Null()
	}
	return w.String(v)
}

// Strings writes an array of strings, preserving order.
func (w *Writer) Strings(values []string) *Writer {
	w.BeginArray()
	for _, v := range values {
		w.String(v)
	}
	return w.EndArray()
}

func (w *Writer) top() *frame {
	if len(w.stack) == 0 {
		return nil
	}
	return &w.stack[len(w.stack)-1]
}

// beforeValue validates that a value may be written here and emits any
// separator. It returns false if nothing should be written.
func (w *Writer) beforeValue() bool {
	if w.err != nil {
		return false
	}
	top := w.top()
	switch {
	case top == nil:
		if w.done {
			w.misuse("second top-level value")
			return false
		}
		w.done = true
	case top.object:
		if !top.expectingValue {
			w.misuse("object value without Name")
			return false
		}
		top.expectingValue = false
	default:
		if !top.first {
			w.raw(",")
		}
		top.first = false
	}
	return w.err == nil
}

func (w *Writer) end(object bool, token string) *Writer {
	if w.err != nil {
		return w
	}
	top := w.top()
	if top == nil || top.object != object || top.expectingValue {
		w.misuse("unbalanced %s", token)
		return w
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.raw(token)
	return w
}

func (w *Writer) misuse(format string, args ...any) {
	w.err = fmt.Errorf("%w: "+format, append([]any{ErrMisuse}, args...)...)
}

func (w *Writer) raw(s string) {
	if w.err != nil {
		return
	}
	if _, err := w.w.WriteString(s); err != nil {
		w.err = err
	}
}

const hexDigits = "0123456789abcdef"

func (w *Writer) quote(s string) {
	if w.err != nil {
		return
	}
	buf := make([]byte, 0, len(s)+2)
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				buf = append(buf, `\ufffd`...)
			} else {
				buf = append(buf, s[i:i+size]...)
			}
			i += size - 1
			continue
		}
		switch c {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if c < 0x20 {
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			} else {
				buf = append(buf, c)
			}
		}
	}
	buf = append(buf, '"')
	if _, err := w.w.Write(buf); err != nil {
		w.err = err
	}
}
