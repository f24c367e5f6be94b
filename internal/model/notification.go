package model

import "strings"

// NotificationType is the audience shape of a notification.
type NotificationType string

const (
	TypeSystemWide   NotificationType = "SystemWide"
	TypeUserSpecific NotificationType = "UserSpecific"
	TypeGroup        NotificationType = "Group"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) Valid() bool {
	return t == TypeSystemWide || t == TypeUserSpecific || t == TypeGroup
}

// NeedsTargets reports whether the audience must be listed explicitly.
func (t NotificationType) NeedsTargets() bool {
	return t == TypeUserSpecific || t == TypeGroup
}

// ParseNotificationType normalizes input (case-insensitive, trimmed).
// Returns (value, true) if valid; otherwise ("", false).
func ParseNotificationType(s string) (NotificationType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "systemwide", "system_wide", "system-wide":
		return TypeSystemWide, true
	case "userspecific", "user_specific", "user-specific":
		return TypeUserSpecific, true
	case "group":
		return TypeGroup, true
	default:
		return "", false
	}
}

// Category classifies the intent of a notification.
type Category string

const (
	CategoryUpdate Category = "Update" // changes to existing information
	CategoryOffer  Category = "Offer"  // promotions and discounts
	CategoryAlert  Category = "Alert"  // urgent
)

func (c Category) String() string { return string(c) }

func (c Category) Valid() bool {
	return c == CategoryUpdate || c == CategoryOffer || c == CategoryAlert
}

func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "update":
		return CategoryUpdate, true
	case "offer":
		return CategoryOffer, true
	case "alert":
		return CategoryAlert, true
	default:
		return "", false
	}
}

// Channel is a delivery medium consumed by a downstream worker.
type Channel string

const (
	ChannelEmail    Channel = "Email"
	ChannelPush     Channel = "Push"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsapp Channel = "Whatsapp"
)

func (c Channel) String() string { return string(c) }

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelSMS, ChannelWhatsapp:
		return true
	default:
		return false
	}
}

func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return ChannelEmail, true
	case "push":
		return ChannelPush, true
	case "sms":
		return ChannelSMS, true
	case "whatsapp":
		return ChannelWhatsapp, true
	default:
		return "", false
	}
}
