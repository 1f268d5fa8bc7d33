package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Payload field numbers of the CartPole schema.
const (
	fieldReward  protowire.Number = 1
	fieldInputs  protowire.Number = 2
	fieldOutputs protowire.Number = 3
	fieldDone    protowire.Number = 4
)

// Message is the record exchanged between the environment and the
// controller. Arity of Inputs and Outputs is fixed per deployment and
// agreed on out of band.
type Message struct {
	Reward  float64
	Inputs  []float64
	Outputs []float64
	// Done marks the last message of an episode.
	Done bool
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := Message{Reward: m.Reward, Done: m.Done}
	if m.Inputs != nil {
		out.Inputs = append([]float64(nil), m.Inputs...)
	}
	if m.Outputs != nil {
		out.Outputs = append([]float64(nil), m.Outputs...)
	}
	return out
}

// Equal reports whether m and o carry the same field values.
// A nil and an empty slice compare equal.
func (m Message) Equal(o Message) bool {
	return m.Reward == o.Reward &&
		m.Done == o.Done &&
		floatsEqual(m.Inputs, o.Inputs) &&
		floatsEqual(m.Outputs, o.Outputs)
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MarshalPayload renders m in protobuf wire format. Default values are
// omitted, as proto3 does.
func (m Message) MarshalPayload() []byte {
	var b []byte
	if m.Reward != 0 || math.Signbit(m.Reward) {
		b = protowire.AppendTag(b, fieldReward, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(m.Reward))
	}
	b = appendPacked(b, fieldInputs, m.Inputs)
	b = appendPacked(b, fieldOutputs, m.Outputs)
	if m.Done {
		b = protowire.AppendTag(b, fieldDone, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

func appendPacked(b []byte, num protowire.Number, values []float64) []byte {
	if len(values) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(values)))
	for _, v := range values {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// UnmarshalPayload parses a protobuf wire payload into a Message.
// Repeated fields are accepted packed or unpacked; unknown fields are skipped.
func UnmarshalPayload(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: tag: %v", ErrParse, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldReward && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: reward: %v", ErrParse, protowire.ParseError(n))
			}
			m.Reward = math.Float64frombits(v)
			b = b[n:]

		case num == fieldReward && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: reward: %v", ErrParse, protowire.ParseError(n))
			}
			m.Reward = float64(math.Float32frombits(v))
			b = b[n:]

		case (num == fieldInputs || num == fieldOutputs) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %v", ErrParse, num, protowire.ParseError(n))
			}
			if len(v)%8 != 0 {
				return Message{}, fmt.Errorf("%w: field %d: packed length %d", ErrParse, num, len(v))
			}
			for len(v) > 0 {
				x, k := protowire.ConsumeFixed64(v)
				m.appendRepeated(num, math.Float64frombits(x))
				v = v[k:]
			}
			b = b[n:]

		case (num == fieldInputs || num == fieldOutputs) && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %v", ErrParse, num, protowire.ParseError(n))
			}
			m.appendRepeated(num, math.Float64frombits(v))
			b = b[n:]

		case num == fieldDone && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: done: %v", ErrParse, protowire.ParseError(n))
			}
			m.Done = protowire.DecodeBool(v)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %v", ErrParse, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

func (m *Message) appendRepeated(num protowire.Number, v float64) {
	if num == fieldInputs {
		m.Inputs = append(m.Inputs, v)
		return
	}
	m.Outputs = append(m.Outputs, v)
}
