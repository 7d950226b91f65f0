package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityRecipientNormalization(t *testing.T) {

	var act ActivityInBase
	err := json.Unmarshal([]byte(`{
		"id": "https://stardust.community/act/1",
		"type": "Create",
		"actor": "https://stardust.community/users/pixie",
		"to": "https://www.w3.org/ns/activitystreams#Public",
		"cc": ["https://stardust.community/users/pixie/followers",
		       "https://wren.example/users/alice"],
		"object": "https://stardust.community/users/pixie/statuses/1"
	}`), &act)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.w3.org/ns/activitystreams#Public"}, act.To)
	assert.Equal(t, []string{
		"https://stardust.community/users/pixie/followers",
		"https://wren.example/users/alice",
	}, act.Cc)

	// Absent to/cc is fine
	var bare ActivityInBase
	err = json.Unmarshal([]byte(`{"type":"Like","actor":"a","object":"b"}`), &bare)
	require.NoError(t, err)
	assert.Empty(t, bare.To)
	assert.Empty(t, bare.Cc)

	// Anything else is not
	var bad ActivityInBase
	err = json.Unmarshal([]byte(`{"type":"Like","to":42}`), &bad)
	assert.Error(t, err)
	err = json.Unmarshal([]byte(`{"type":"Like","to":["ok",7]}`), &bad)
	assert.Error(t, err)
}

func TestNoteTagParsing(t *testing.T) {

	var single Note
	err := json.Unmarshal([]byte(`{
		"id": "https://stardust.community/users/pixie/statuses/1",
		"type": "Note",
		"attributedTo": "https://stardust.community/users/pixie",
		"content": "<p>Chirp</p>",
		"tag": {"type":"Hashtag","href":"https://stardust.community/tags/birds","name":"#birds"}
	}`), &single)
	require.NoError(t, err)
	require.NotNil(t, single.Tag)
	require.Len(t, *single.Tag, 1)
	assert.Equal(t, Tag{Type: "Hashtag", Href: "https://stardust.community/tags/birds", Name: "#birds"}, (*single.Tag)[0])

	var multi Note
	err = json.Unmarshal([]byte(`{
		"id": "x", "type": "Note",
		"tag": [{"type":"Hashtag","href":"h1","name":"#one"},
		        {"type":"Hashtag","href":"h2","name":"#two"}]
	}`), &multi)
	require.NoError(t, err)
	require.NotNil(t, multi.Tag)
	assert.Len(t, *multi.Tag, 2)

	var none Note
	err = json.Unmarshal([]byte(`{"id":"x","type":"Note"}`), &none)
	require.NoError(t, err)
	assert.Nil(t, none.Tag)

	var bad Note
	err = json.Unmarshal([]byte(`{"id":"x","type":"Note","tag":["#goats"]}`), &bad)
	assert.Error(t, err)
	err = json.Unmarshal([]byte(`{"id":"x","type":"Note","tag":{"type":"Hashtag"}}`), &bad)
	assert.Error(t, err)
}

func TestNoteMarshalRoundTrip(t *testing.T) {

	summary := ""
	tags := []Tag{{Type: "Hashtag", Href: "https://wren.example/tags/x", Name: "#x"}}
	orig := Note{
		Id:           "https://wren.example/users/alice/statuses/1",
		Type:         "Note",
		Published:    "2026-08-20T10:00:00Z",
		Summary:      &summary,
		AttributedTo: "https://wren.example/users/alice",
		To:           []string{"https://www.w3.org/ns/activitystreams#Public"},
		Cc:           []string{"https://wren.example/users/alice/followers"},
		Content:      "<p>Hi</p>",
		Tag:          &tags,
	}
	data, err := json.Marshal(&orig)
	require.NoError(t, err)

	var parsed Note
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, orig.Id, parsed.Id)
	assert.Equal(t, orig.To, parsed.To)
	assert.Equal(t, orig.Cc, parsed.Cc)
	assert.Equal(t, orig.Content, parsed.Content)
	require.NotNil(t, parsed.Tag)
	assert.Equal(t, tags, *parsed.Tag)
}
