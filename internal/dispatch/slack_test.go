package dispatch

import (
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseEvent(t *testing.T, body string) slackevents.EventsAPIEvent {
	t.Helper()
	ev, err := ParseEventsAPI([]byte(body))
	require.NoError(t, err)
	return ev
}

func TestFromEventsAPI(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected Interaction
	}{
		{
			name: "app mention in thread",
			body: `{"type":"event_callback","team_id":"T1","event_id":"Ev1","event":{"type":"app_mention","user":"U1","channel":"C1","text":"<@UBOT> hi","ts":"2.0","thread_ts":"1.0"}}`,
			expected: Interaction{
				ID: "Ev1", Kind: KindEvent, Key: "app_mention", TeamID: "T1", UserID: "U1", ChannelID: "C1",
				Text: "<@UBOT> hi", MessageTS: "2.0", ThreadTS: "1.0",
			},
		},
		{
			name: "team join carries a user object",
			body: `{"type":"event_callback","team_id":"T1","event_id":"Ev2","event":{"type":"team_join","user":{"id":"U9","name":"new"}}}`,
			expected: Interaction{
				ID: "Ev2", Kind: KindEvent, Key: "team_join", TeamID: "T1", UserID: "U9",
			},
		},
		{
			name: "member joined channel",
			body: `{"type":"event_callback","team_id":"T1","event_id":"Ev3","event":{"type":"member_joined_channel","user":"U2","channel":"C_CONTRIBUTE"}}`,
			expected: Interaction{
				ID: "Ev3", Kind: KindEvent, Key: "member_joined_channel", TeamID: "T1", UserID: "U2", ChannelID: "C_CONTRIBUTE",
			},
		},
		{
			name: "bot message",
			body: `{"type":"event_callback","team_id":"T1","event_id":"Ev4","event":{"type":"message","subtype":"bot_message","bot_id":"B1","channel":"C1","text":"beep","ts":"3.0"}}`,
			expected: Interaction{
				ID: "Ev4", Kind: KindEvent, Key: "message", TeamID: "T1", ChannelID: "C1",
				Text: "beep", MessageTS: "3.0", BotID: "B1", SubType: "bot_message",
			},
		},
	}

	for i := range testCases {
		tc := &testCases[i]
		t.Run(tc.name, func(t *testing.T) {
			in, err := FromEventsAPI(parseEvent(t, tc.body), nil)
			require.NoError(t, err)

			assert.Equal(t, tc.expected.ID, in.ID)
			assert.Equal(t, tc.expected.Kind, in.Kind)
			assert.Equal(t, tc.expected.Key, in.Key)
			assert.Equal(t, tc.expected.TeamID, in.TeamID)
			assert.Equal(t, tc.expected.UserID, in.UserID)
			assert.Equal(t, tc.expected.ChannelID, in.ChannelID)
			assert.Equal(t, tc.expected.Text, in.Text)
			assert.Equal(t, tc.expected.MessageTS, in.MessageTS)
			assert.Equal(t, tc.expected.ThreadTS, in.ThreadTS)
			assert.Equal(t, tc.expected.BotID, in.BotID)
			assert.Equal(t, tc.expected.SubType, in.SubType)
		})
	}
}

func TestFromEventsAPI_Files(t *testing.T) {
	body := `{"type":"event_callback","team_id":"T1","event":{"type":"message","subtype":"file_share","user":"U1","channel":"C1","ts":"1.0",
		"files":[{"id":"F1","name":"shot.png","mimetype":"image/png","size":1024,"url_private_download":"https://files.slack.com/F1"}]}}`

	in, err := FromEventsAPI(parseEvent(t, body), nil)
	require.NoError(t, err)

	require.Len(t, in.Files, 1)
	assert.Equal(t, "image/png", in.Files[0].MimeType)
	assert.Equal(t, "https://files.slack.com/F1", in.Files[0].URLPrivate)
}

func TestFromEventsAPI_RejectsNonCallback(t *testing.T) {
	_, err := FromEventsAPI(parseEvent(t, `{"type":"url_verification","challenge":"abc","token":"t"}`), nil)
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
}

func TestFromSlashCommand(t *testing.T) {
	acks := 0
	in := FromSlashCommand(slack.SlashCommand{
		Command:   "/projects",
		Text:      "zap",
		UserID:    "U1",
		ChannelID: "C1",
		TeamID:    "T1",
		TriggerID: "tr",
	}, func() { acks++ })

	assert.Equal(t, KindCommand, in.Kind)
	assert.Equal(t, "/projects", in.Key)
	assert.Equal(t, "zap", in.Text)
	assert.Equal(t, "U1", in.UserID)

	in.Ack()
	in.Ack()
	assert.Equal(t, 1, acks)
}

func TestFromInteractionCallback(t *testing.T) {
	var cb slack.InteractionCallback
	cb.Type = slack.InteractionTypeBlockActions
	cb.User.ID = "U1"
	cb.Team.ID = "T1"
	cb.ActionCallback.BlockActions = []*slack.BlockAction{
		{ActionID: "view_projects_action_next", Value: `{"q":"","page":2,"limit":10}`},
	}

	out := FromInteractionCallback(cb, nil)
	require.Len(t, out, 1)
	assert.Equal(t, KindAction, out[0].Kind)
	assert.Equal(t, "view_projects_action_next", out[0].Key)
	assert.Equal(t, `{"q":"","page":2,"limit":10}`, out[0].Value)
	assert.Equal(t, "U1", out[0].UserID)

	cb.Type = slack.InteractionTypeViewSubmission
	assert.Empty(t, FromInteractionCallback(cb, nil))
}
