package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmehdipour/notify-gateway/internal/model"
)

// ContentType of encoded envelopes.
const ContentType = "application/json"

var ErrUnknownEnum = errors.New("unknown enum name")

// DecodeError wraps any failure to turn wire bytes into a valid envelope.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode envelope: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// wireEnvelope is the field-keyed payload shared with consumers. Enum values
// travel as their symbolic names; consumers built elsewhere rely on these
// exact keys and spellings.
type wireEnvelope struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Type        string   `json:"type"`
	Category    string   `json:"category"`
	Channels    []string `json:"channels"`
	TargetUsers []string `json:"target_users"`
}

// Encode serializes a validated envelope.
func Encode(v model.ValidEnvelope) ([]byte, error) {
	if v.IsZero() {
		return nil, errors.New("encode envelope: zero value")
	}

	chs := v.Channels()
	w := wireEnvelope{
		Title:       v.Title(),
		Body:        v.Body(),
		Type:        v.Type().String(),
		Category:    v.Category().String(),
		Channels:    make([]string, len(chs)),
		TargetUsers: v.TargetUsers(),
	}
	for i, c := range chs {
		w.Channels[i] = c.String()
	}

	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses b and re-validates it. Enum names must match exactly.
func Decode(b []byte) (model.ValidEnvelope, error) {
	var w wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&w); err != nil {
		return model.ValidEnvelope{}, &DecodeError{Err: err}
	}
	if dec.More() {
		return model.ValidEnvelope{}, &DecodeError{Err: errors.New("trailing data after envelope")}
	}

	e := model.Envelope{
		Title:       w.Title,
		Body:        w.Body,
		Type:        model.NotificationType(w.Type),
		Category:    model.Category(w.Category),
		TargetUsers: w.TargetUsers,
	}
	if !e.Type.Valid() {
		return model.ValidEnvelope{}, &DecodeError{Err: fmt.Errorf("%w: type %q", ErrUnknownEnum, w.Type)}
	}
	if !e.Category.Valid() {
		return model.ValidEnvelope{}, &DecodeError{Err: fmt.Errorf("%w: category %q", ErrUnknownEnum, w.Category)}
	}
	for _, s := range w.Channels {
		c := model.Channel(s)
		if !c.Valid() {
			return model.ValidEnvelope{}, &DecodeError{Err: fmt.Errorf("%w: channel %q", ErrUnknownEnum, s)}
		}
		e.Channels = append(e.Channels, c)
	}

	v, err := model.Validate(e)
	if err != nil {
		return model.ValidEnvelope{}, &DecodeError{Err: err}
	}
	return v, nil
}
