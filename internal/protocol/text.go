package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const fieldSep = ";"

// Layout fixes the positional order of text fields:
// inputs, outputs, reward, done.
type Layout struct {
	Inputs  int
	Outputs int
	Reward  bool
	// Done appends a 1/0 episode-end flag. It may be absent on decode.
	Done bool
}

func (l Layout) Validate() error {
	if l.Inputs < 0 || l.Outputs < 0 {
		return errors.New("layout arity must not be negative")
	}
	if l.required() == 0 && !l.Done {
		return errors.New("layout has no fields")
	}
	return nil
}

func (l Layout) required() int {
	n := l.Inputs + l.Outputs
	if l.Reward {
		n++
	}
	return n
}

// TextCodec renders a Message as one ';'-joined line of decimal floats.
type TextCodec struct {
	Layout Layout
}

func (c TextCodec) Encode(m Message) ([]byte, error) {
	l := c.Layout
	if len(m.Inputs) != l.Inputs {
		return nil, fmt.Errorf("encoding text frame: %d inputs, layout wants %d", len(m.Inputs), l.Inputs)
	}
	if len(m.Outputs) != l.Outputs {
		return nil, fmt.Errorf("encoding text frame: %d outputs, layout wants %d", len(m.Outputs), l.Outputs)
	}

	fields := make([]string, 0, l.required()+1)
	for _, v := range m.Inputs {
		fields = append(fields, formatField(v))
	}
	for _, v := range m.Outputs {
		fields = append(fields, formatField(v))
	}
	if l.Reward {
		fields = append(fields, formatField(m.Reward))
	}
	if l.Done {
		flag := "0"
		if m.Done {
			flag = "1"
		}
		fields = append(fields, flag)
	}
	return []byte(strings.Join(fields, fieldSep) + "\n"), nil
}

func formatField(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Decode reads one line. The channel is closed after every frame, so
// buffering past the newline loses nothing.
func (c TextCodec) Decode(r io.Reader) (Message, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	line, err := br.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return Message{}, fmt.Errorf("reading line: %w", err)
		}
		if line == "" {
			return Message{}, fmt.Errorf("%w: stream closed before line", ErrFraming)
		}
		return Message{}, fmt.Errorf("%w: line not terminated", ErrIncompleteFrame)
	}
	return c.ParseLine(line)
}

// ParseLine maps one text record onto a Message.
func (c TextCodec) ParseLine(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Message{}, fmt.Errorf("%w: empty line", ErrIncompleteFrame)
	}
	fields := strings.Split(line, fieldSep)

	l := c.Layout
	want := l.required()
	limit := want
	if l.Done {
		limit++
	}
	if len(fields) < want {
		return Message{}, fmt.Errorf("%w: %d fields, want %d", ErrIncompleteFrame, len(fields), want)
	}
	if len(fields) > limit {
		return Message{}, fmt.Errorf("%w: %d fields, want at most %d", ErrParse, len(fields), limit)
	}

	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Message{}, fmt.Errorf("%w: field %d %q", ErrParse, i, f)
		}
		values[i] = v
	}

	var m Message
	if l.Inputs > 0 {
		m.Inputs = values[:l.Inputs:l.Inputs]
	}
	values = values[l.Inputs:]
	if l.Outputs > 0 {
		m.Outputs = values[:l.Outputs:l.Outputs]
	}
	values = values[l.Outputs:]
	if l.Reward {
		m.Reward = values[0]
		values = values[1:]
	}
	if l.Done && len(values) > 0 {
		m.Done = values[0] != 0
	}
	return m, nil
}
