package model

import "slices"

// Envelope is a notification request as received, before validation.
type Envelope struct {
	Title       string
	Body        string
	Type        NotificationType
	Category    Category
	Channels    []Channel
	TargetUsers []string
}

// ValidEnvelope is an Envelope that passed Validate. It can only be built by
// Validate, so holders never need to re-check the invariants.
type ValidEnvelope struct {
	env Envelope
}

func (v ValidEnvelope) Title() string { return v.env.Title }
func (v ValidEnvelope) Body() string { return v.env.Body }
func (v ValidEnvelope) Type() NotificationType { return v.env.Type }
func (v ValidEnvelope) Category() Category { return v.env.Category }
func (v ValidEnvelope) Channels() []Channel { return slices.Clone(v.env.Channels) }
func (v ValidEnvelope) TargetUsers() []string { return slices.Clone(v.env.TargetUsers) }
func (v ValidEnvelope) HasChannel(c Channel) bool { return slices.Contains(v.env.Channels, c) }
func (v ValidEnvelope) IsZero() bool { return v.env.Type == "" }

// Envelope returns a copy of the underlying envelope.
func (v ValidEnvelope) Envelope() Envelope {
	e := v.env
	e.Channels = slices.Clone(e.Channels)
	e.TargetUsers = slices.Clone(e.TargetUsers)
	return e
}
