package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGroup() Envelope {
	return Envelope{
		Title:       "Release 2.0",
		Body:        "New features available",
		Type:        TypeGroup,
		Category:    CategoryUpdate,
		Channels:    []Channel{ChannelEmail},
		TargetUsers: []string{"u1", "u2"},
	}
}

func TestValidate_SystemWideIgnoresTargetUsers(t *testing.T) {
	for name, targets := range map[string][]string{
		"absent":    nil,
		"empty":     {},
		"populated": {"u1", "u2"},
		"blank ids": {"", " "},
	} {
		t.Run(name, func(t *testing.T) {
			e := Envelope{
				Title:       "Maintenance",
				Body:        "Tonight at 22:00",
				Type:        TypeSystemWide,
				Category:    CategoryAlert,
				Channels:    []Channel{ChannelPush},
				TargetUsers: targets,
			}
			v, err := Validate(e)
			require.NoError(t, err)
			assert.Nil(t, v.TargetUsers())
		})
	}
}

func TestValidate_AudienceTypesRequireTargetUsers(t *testing.T) {
	for _, typ := range []NotificationType{TypeUserSpecific, TypeGroup} {
		for _, targets := range [][]string{nil, {}} {
			e := validGroup()
			e.Type = typ
			e.TargetUsers = targets

			_, err := Validate(e)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoTargetUsers)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, "target_users", ve.Field)
		}
	}
}

func TestValidate_EmptyChannelsRejected(t *testing.T) {
	for _, typ := range []NotificationType{TypeSystemWide, TypeUserSpecific, TypeGroup} {
		e := validGroup()
		e.Type = typ
		e.Channels = nil

		_, err := Validate(e)
		assert.ErrorIs(t, err, ErrNoChannels)

		e.Channels = []Channel{}
		_, err = Validate(e)
		assert.ErrorIs(t, err, ErrNoChannels)
	}
}

func TestValidate_ReportsFirstViolation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Envelope)
		want   error
		field  string
	}{
		{"blank title wins over everything", func(e *Envelope) {
			e.Title = "   "
			e.Body = ""
			e.Channels = nil
			e.TargetUsers = nil
		}, ErrEmptyTitle, "title"},
		{"blank body before channels", func(e *Envelope) {
			e.Body = "\t\n"
			e.Channels = nil
		}, ErrEmptyBody, "body"},
		{"unknown type", func(e *Envelope) { e.Type = "Broadcast" }, ErrUnknownType, "type"},
		{"unknown category", func(e *Envelope) { e.Category = "Spam" }, ErrUnknownCategory, "category"},
		{"channels before targets", func(e *Envelope) {
			e.Channels = nil
			e.TargetUsers = nil
		}, ErrNoChannels, "channels"},
		{"unknown channel", func(e *Envelope) {
			e.Channels = []Channel{ChannelEmail, "Pigeon"}
		}, ErrUnknownChannel, "channels"},
		{"missing targets", func(e *Envelope) { e.TargetUsers = nil }, ErrNoTargetUsers, "target_users"},
		{"title not utf-8 before body", func(e *Envelope) {
			e.Title = "Caf\xe9"
			e.Body = ""
		}, ErrInvalidText, "title"},
		{"body not utf-8", func(e *Envelope) { e.Body = "bad \xff byte" }, ErrInvalidText, "body"},
		{"target id not utf-8", func(e *Envelope) {
			e.TargetUsers = []string{"u1", "u\xc3"}
		}, ErrInvalidText, "target_users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validGroup()
			tt.mutate(&e)

			_, err := Validate(e)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidate_CollapsesDuplicateChannels(t *testing.T) {
	e := validGroup()
	e.Channels = []Channel{ChannelSMS, ChannelEmail, ChannelSMS, ChannelEmail, ChannelPush}

	v, err := Validate(e)
	require.NoError(t, err)
	assert.Equal(t, []Channel{ChannelSMS, ChannelEmail, ChannelPush}, v.Channels())
	assert.True(t, v.HasChannel(ChannelPush))
	assert.False(t, v.HasChannel(ChannelWhatsapp))
}

func TestValidEnvelope_AccessorsReturnCopies(t *testing.T) {
	v, err := Validate(validGroup())
	require.NoError(t, err)

	chs := v.Channels()
	chs[0] = ChannelWhatsapp
	users := v.TargetUsers()
	users[0] = "mallory"

	assert.Equal(t, []Channel{ChannelEmail}, v.Channels())
	assert.Equal(t, []string{"u1", "u2"}, v.TargetUsers())
	assert.False(t, v.IsZero())
	assert.True(t, ValidEnvelope{}.IsZero())
}

func TestValidate_DoesNotAliasInput(t *testing.T) {
	e := validGroup()
	v, err := Validate(e)
	require.NoError(t, err)

	e.TargetUsers[0] = "changed"
	e.Channels[0] = ChannelSMS

	assert.Equal(t, []string{"u1", "u2"}, v.TargetUsers())
	assert.Equal(t, []Channel{ChannelEmail}, v.Channels())
}

func TestParseEnums(t *testing.T) {
	typ, ok := ParseNotificationType(" group ")
	assert.True(t, ok)
	assert.Equal(t, TypeGroup, typ)

	typ, ok = ParseNotificationType("user_specific")
	assert.True(t, ok)
	assert.Equal(t, TypeUserSpecific, typ)

	_, ok = ParseNotificationType("2")
	assert.False(t, ok)

	cat, ok := ParseCategory("ALERT")
	assert.True(t, ok)
	assert.Equal(t, CategoryAlert, cat)

	ch, ok := ParseChannel("whatsApp")
	assert.True(t, ok)
	assert.Equal(t, ChannelWhatsapp, ch)

	_, ok = ParseChannel("InApp")
	assert.False(t, ok)
}
