package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmehdipour/notify-gateway/internal/model"
)

const (
	DefaultPrefix = "notify"

	// payload kind and lifecycle event segments that follow the audience type
	payloadKind  = "notification"
	eventCreated = "created"
)

var ErrInvalidPrefix = errors.New("invalid routing key prefix")

// Deriver builds topic routing keys of the form
// <prefix>.<type>.notification.created, e.g. notify.group.notification.created.
//
// Only the audience type takes part in the key: the topic exchange splits on
// audience, and workers filter category and channel from the payload.
type Deriver struct {
	prefix string
}

// NewDeriver validates prefix: one or more dot-separated words without
// wildcards. An empty prefix selects DefaultPrefix.
func NewDeriver(prefix string) (Deriver, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return Deriver{prefix: DefaultPrefix}, nil
	}
	for _, w := range strings.Split(prefix, ".") {
		if w == "" || strings.ContainsAny(w, "*# \t") {
			return Deriver{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
		}
	}
	return Deriver{prefix: prefix}, nil
}

func (d Deriver) Prefix() string {
	if d.prefix == "" {
		return DefaultPrefix
	}
	return d.prefix
}

// Derive returns the routing key for a validated envelope.
func (d Deriver) Derive(v model.ValidEnvelope) string {
	return d.ForType(v.Type())
}

// ForType returns the routing key for an audience type.
func (d Deriver) ForType(t model.NotificationType) string {
	return d.Prefix() + "." + strings.ToLower(t.String()) + "." + payloadKind + "." + eventCreated
}

// Pattern returns a binding pattern that matches every key this deriver
// produces, or only the keys for t when t is non-empty.
func (d Deriver) Pattern(t model.NotificationType) string {
	if t == "" {
		return d.Prefix() + ".*." + payloadKind + ".#"
	}
	return d.ForType(t)
}
