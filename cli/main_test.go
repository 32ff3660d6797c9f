package main

import (
	"context"
	"encoding/json"
	"testing"

	"forum-search-backend/hooks"
	"forum-search-backend/settings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	values, err := parseAssignments([]string{"core=forum2", "rows=", "endpoint=http://solr:8983/x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"core":     "forum2",
		"rows":     "",
		"endpoint": "http://solr:8983/x=y",
	}, values)

	_, err = parseAssignments([]string{"core"})
	assert.ErrorContains(t, err, "expected key=value")

	_, err = parseAssignments([]string{"color=red"})
	assert.ErrorContains(t, err, "unknown setting")
}

func TestNotifySettingsChanged(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubsub.Close()
	messages, err := pubsub.Subscribe(context.Background(), "forum.events")
	require.NoError(t, err)

	require.NoError(t, notifySettingsChanged(pubsub, "forum.events"))

	msg := <-messages
	msg.Ack()
	var ev hooks.Event
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, hooks.Event{Hook: hooks.ConfigChange, Hash: settings.Key}, ev)
}
