// Package messages exposes the typed messages exchanged between members and
// the line codec used on the wire.
// Each message travels as a single newline-terminated line of semicolon
// separated key=value pairs. Keys and values never contain ';', '=' or a
// newline. Pair order is irrelevant when parsing.
package messages

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Type discriminates the message variants.
type Type string

const (
	Propose       Type = "PROPOSE"
	Prepare       Type = "PREPARE"
	Promise       Type = "PROMISE"
	Reject        Type = "REJECT"
	AcceptRequest Type = "ACCEPT_REQUEST"
	Accepted      Type = "ACCEPTED"
	Decide        Type = "DECIDE"
)

// None is the sentinel for "no proposal number". It is never a real n.
const None int64 = -1

// Message is the polymorphic message value. Numeric fields hold None when the
// variant does not carry them; V and AcceptedV hold "" when absent.
// AcceptedN and AcceptedV are only ever present together.
type Message struct {
	Type      Type
	From      string
	N         int64
	V         string
	AcceptedN int64
	AcceptedV string
	HigherN   int64
}

// New returns a message of the given type with every optional field absent.
func New(t Type, from string) Message {
	return Message{
		Type:      t,
		From:      from,
		N:         None,
		AcceptedN: None,
		HigherN:   None,
	}
}

// knownTypes is used to refuse messages whose type we do not speak.
var knownTypes = map[Type]bool{
	Propose:       true,
	Prepare:       true,
	Promise:       true,
	Reject:        true,
	AcceptRequest: true,
	Accepted:      true,
	Decide:        true,
}

// Encode serializes the message to its wire line, without the trailing
// newline. Emission rules: 'n' only when >= 0; 'acceptedN' and 'acceptedV'
// only together and only when a prior accept exists; 'higherN' only in
// REJECT messages; 'v' only when non empty.
func (m Message) Encode() string {
	pairs := []string{
		"type=" + string(m.Type),
		"from=" + m.From,
	}
	if m.N >= 0 {
		pairs = append(pairs, "n="+strconv.FormatInt(m.N, 10))
	}
	if m.V != "" {
		pairs = append(pairs, "v="+m.V)
	}
	if m.AcceptedN >= 0 && m.AcceptedV != "" {
		pairs = append(pairs, "acceptedN="+strconv.FormatInt(m.AcceptedN, 10))
		pairs = append(pairs, "acceptedV="+m.AcceptedV)
	}
	if m.Type == Reject && m.HigherN >= 0 {
		pairs = append(pairs, "higherN="+strconv.FormatInt(m.HigherN, 10))
	}
	return strings.Join(pairs, ";")
}

// Decode parses one wire line (with or without the trailing newline) back
// into a Message. Unknown keys are ignored; a missing or unknown 'type', a
// pair without '=' or a non numeric value in a numeric field is an error.
func Decode(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Message{}, fmt.Errorf("messages: empty line")
	}

	m := Message{N: None, AcceptedN: None, HigherN: None}
	for _, pair := range strings.Split(line, ";") {
		i := strings.Index(pair, "=")
		if i < 0 {
			return Message{}, fmt.Errorf("messages: malformed pair %q", pair)
		}
		key, value := pair[:i], pair[i+1:]

		var err error
		switch key {
		case "type":
			m.Type = Type(value)
		case "from":
			m.From = value
		case "n":
			m.N, err = strconv.ParseInt(value, 10, 64)
		case "v":
			m.V = value
		case "acceptedN":
			m.AcceptedN, err = strconv.ParseInt(value, 10, 64)
		case "acceptedV":
			m.AcceptedV = value
		case "higherN":
			m.HigherN, err = strconv.ParseInt(value, 10, 64)
		default:
			// tolerate keys introduced by newer peers
		}
		if err != nil {
			return Message{}, fmt.Errorf("messages: bad value for %q: %v", key, err)
		}
	}

	if !knownTypes[m.Type] {
		return Message{}, fmt.Errorf("messages: unknown type %q", m.Type)
	}
	return m, nil
}

// String renders the message for logs, with the pairs in a stable order.
func (m Message) String() string {
	pairs := strings.Split(m.Encode(), ";")
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}
