package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/c360/streamfan/errors"
)

// Generated field names added by Enrich.
const (
	FieldID   = "message_id"
	FieldTime = "message_time"
)

// TimeLayout is the UTC microsecond layout of the message_time field.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Message is an arbitrary serializable event payload with unbounded depth.
type Message map[string]any

// New creates an empty message.
func New() Message {
	return Message{}
}

// Enrich stamps the message with a fresh unique id and the current UTC time
// at microsecond precision. Existing values under the generated field names
// are overwritten.
func (m Message) Enrich() {
	m[FieldID] = uuid.NewString()
	m[FieldTime] = time.Now().UTC().Format(TimeLayout)
}

// ID returns the generated message id, empty before Enrich.
func (m Message) ID() string {
	id, _ := m[FieldID].(string)
	return id
}

// Time returns the generated message timestamp, empty before Enrich.
func (m Message) Time() string {
	ts, _ := m[FieldTime].(string)
	return ts
}

// Encode serializes the message to JSON.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Message", "Encode", "marshal payload")
	}
	return data, nil
}

// Decode parses a JSON payload into a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapInvalid(err, "Message", "Decode", "unmarshal payload")
	}
	return m, nil
}
