package worker

import (
	"testing"

	"github.com/jmehdipour/notify-gateway/internal/model"
	"github.com/jmehdipour/notify-gateway/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailFlagsBuild(t *testing.T) {
	routes, err := routing.NewDeriver("acme.notify")
	require.NoError(t, err)

	w, err := tailFlags{}.build(routes)
	require.NoError(t, err)
	assert.Equal(t, "acme.notify.*.notification.#", w.Pattern)

	w, err = tailFlags{typ: "group", channels: []string{"sms"}, categories: []string{"alert"}}.build(routes)
	require.NoError(t, err)
	assert.Equal(t, "acme.notify.group.notification.created", w.Pattern)
	assert.Equal(t, []model.Channel{model.ChannelSMS}, w.Channels)
	assert.Equal(t, []model.Category{model.CategoryAlert}, w.Categories)

	w, err = tailFlags{pattern: "#", typ: "nonsense"}.build(routes)
	require.NoError(t, err)
	assert.Equal(t, "#", w.Pattern)

	_, err = tailFlags{typ: "nonsense"}.build(routes)
	assert.Error(t, err)
	_, err = tailFlags{channels: []string{"fax"}}.build(routes)
	assert.Error(t, err)
	_, err = tailFlags{categories: []string{"spam"}}.build(routes)
	assert.Error(t, err)
}
