package logic_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"wren/dal"
	"wren/dto"
	"wren/logic"
	"wren/shared"
	"wren/test/mocks"
)

type inboxFixture struct {
	storage     dal.IStorage
	inbox       logic.IInbox
	retriever   *mocks.MockIRemoteRetriever
	broadcaster *mocks.MockIBroadcaster
	alice       *dal.Actor
	pixie       *dal.Actor
}

func newInboxFixture(t *testing.T, name string) *inboxFixture {

	ctrl := gomock.NewController(t)
	cfg := makeTestConfig()
	logger := newMockLogger(ctrl)
	metrics := newMockMetrics(ctrl)
	storage := newTestStorage(t, name, logger)

	retriever := mocks.NewMockIRemoteRetriever(ctrl)
	broadcaster := mocks.NewMockIBroadcaster(ctrl)

	actors := logic.NewActorDirectory(cfg, logger, storage, retriever)
	ledger := logic.NewFollowLedger(cfg, logger, storage, actors)
	statuses := logic.NewStatusRepo(cfg, logger, storage, metrics)
	timelines := logic.NewTimelines(cfg, logger, storage, ledger)
	compactor := logic.NewCompactor(logger)
	inbox := logic.NewInbox(cfg, logger, storage, compactor, ledger, statuses,
		timelines, actors, retriever, broadcaster, metrics)

	return &inboxFixture{
		storage:     storage,
		inbox:       inbox,
		retriever:   retriever,
		broadcaster: broadcaster,
		alice:       storeLocalActor(t, storage, "alice"),
		pixie:       storeRemoteActor(t, storage, "pixie", "stardust.community"),
	}
}

func followJson(activityId, actorId, targetId string) []byte {
	return fmt.Appendf(nil, `{"id":%q,"type":"Follow","actor":%q,"object":%q}`,
		activityId, actorId, targetId)
}

func TestInboxFollow(t *testing.T) {

	fix := newInboxFixture(t, "inbox-follow")
	fix.broadcaster.EXPECT().
		SendToInbox(gomock.Any(), fix.pixie.InboxUrl, gomock.Any()).
		Return(nil).Times(2)

	outcome, err := fix.inbox.Process(fix.pixie,
		followJson("https://stardust.community/act/f1", fix.pixie.Id, fix.alice.Id))
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)
	assert.Equal(t, fix.alice.Id, outcome.Target)

	following, err := fix.storage.IsCurrentActorFollowing(fix.pixie.Id, fix.alice.Id)
	require.NoError(t, err)
	assert.True(t, following)

	// A repeated Follow under a fresh activity id changes nothing
	outcome, err = fix.inbox.Process(fix.pixie,
		followJson("https://stardust.community/act/f2", fix.pixie.Id, fix.alice.Id))
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)
	follows, err := fix.storage.GetAcceptedFollows(fix.alice.Id)
	require.NoError(t, err)
	assert.Len(t, follows, 1)
}

func TestInboxFollowUnknownTarget(t *testing.T) {

	fix := newInboxFixture(t, "inbox-follow-unknown")

	outcome, err := fix.inbox.Process(fix.pixie,
		followJson("https://stardust.community/act/f1", fix.pixie.Id,
			"https://wren.test/users/nobody"))
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeNotFound, outcome.Code)

	// A remote actor is not a valid follow target either
	outcome, err = fix.inbox.Process(fix.pixie,
		followJson("https://stardust.community/act/f2", fix.pixie.Id, fix.pixie.Id))
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeNotFound, outcome.Code)
}

func TestInboxDuplicateActivityId(t *testing.T) {

	fix := newInboxFixture(t, "inbox-dup-activity")
	fix.broadcaster.EXPECT().
		SendToInbox(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).Times(1)

	body := followJson("https://stardust.community/act/f1", fix.pixie.Id, fix.alice.Id)
	outcome, err := fix.inbox.Process(fix.pixie, body)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)

	// Same id again: acknowledged but not re-applied
	outcome, err = fix.inbox.Process(fix.pixie, body)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)
	assert.Empty(t, outcome.Target)
}

func TestInboxUndoFollow(t *testing.T) {

	fix := newInboxFixture(t, "inbox-undo-follow")
	fix.broadcaster.EXPECT().
		SendToInbox(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()

	_, err := fix.inbox.Process(fix.pixie,
		followJson("https://stardust.community/act/f1", fix.pixie.Id, fix.alice.Id))
	require.NoError(t, err)

	undo := fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/u1","type":"Undo","actor":%q,
		  "object":{"id":"https://stardust.community/act/f1","type":"Follow","actor":%q,"object":%q}}`,
		fix.pixie.Id, fix.pixie.Id, fix.alice.Id)
	outcome, err := fix.inbox.Process(fix.pixie, undo)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)

	following, err := fix.storage.IsCurrentActorFollowing(fix.pixie.Id, fix.alice.Id)
	require.NoError(t, err)
	assert.False(t, following)

	// Undoing again finds nothing to undo
	undo2 := fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/u2","type":"Undo","actor":%q,
		  "object":{"type":"Follow","actor":%q,"object":%q}}`,
		fix.pixie.Id, fix.pixie.Id, fix.alice.Id)
	outcome, err = fix.inbox.Process(fix.pixie, undo2)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeNotFound, outcome.Code)
}

func TestInboxAcceptRejectNoMatch(t *testing.T) {

	fix := newInboxFixture(t, "inbox-accept-nomatch")

	accept := fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/a1","type":"Accept","actor":%q,
		  "object":{"type":"Follow","actor":%q,"object":%q}}`,
		fix.pixie.Id, fix.alice.Id, fix.pixie.Id)
	outcome, err := fix.inbox.Process(fix.pixie, accept)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeNotFound, outcome.Code)

	reject := fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/r1","type":"Reject","actor":%q,
		  "object":{"type":"Follow","actor":%q,"object":%q}}`,
		fix.pixie.Id, fix.alice.Id, fix.pixie.Id)
	outcome, err = fix.inbox.Process(fix.pixie, reject)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeNotFound, outcome.Code)
}

func TestInboxLike(t *testing.T) {

	fix := newInboxFixture(t, "inbox-like")

	noteId := fix.alice.Id + "/statuses/1"
	require.NoError(t, fix.storage.InsertNote(&dal.CreateNoteParams{
		Id: noteId, ActorId: fix.alice.Id,
	}))

	like := fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/l1","type":"Like","actor":%q,"object":%q}`,
		fix.pixie.Id, noteId)
	outcome, err := fix.inbox.Process(fix.pixie, like)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)
	count, err := fix.storage.GetLikeCount(noteId)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Liking an unknown status is acknowledged and dropped
	like2 := fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/l2","type":"Like","actor":%q,"object":"https://nowhere.example/s/1"}`,
		fix.pixie.Id)
	outcome, err = fix.inbox.Process(fix.pixie, like2)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)

	undoLike := fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/ul1","type":"Undo","actor":%q,
		  "object":{"id":"https://stardust.community/act/l1","type":"Like","actor":%q,"object":%q}}`,
		fix.pixie.Id, fix.pixie.Id, noteId)
	outcome, err = fix.inbox.Process(fix.pixie, undoLike)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)
	count, err = fix.storage.GetLikeCount(noteId)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestInboxAnnounceFetchFailure(t *testing.T) {

	fix := newInboxFixture(t, "inbox-announce-fail")

	boosted := "https://stardust.community/users/pixie/statuses/99"
	fix.retriever.EXPECT().RetrieveNote(boosted).
		Return(nil, errors.New("connection refused"))

	announce := fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/b1","type":"Announce","actor":%q,"object":%q}`,
		fix.pixie.Id, boosted)
	outcome, err := fix.inbox.Process(fix.pixie, announce)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeNotFound, outcome.Code)

	// Nothing was written
	status, err := fix.storage.GetStatusRow(boosted)
	require.NoError(t, err)
	assert.Nil(t, status)
	status, err = fix.storage.GetStatusRow("https://stardust.community/act/b1")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestInboxAnnounceMaterializesNote(t *testing.T) {

	fix := newInboxFixture(t, "inbox-announce-ok")

	boosted := "https://stardust.community/users/pixie/statuses/42"
	fix.retriever.EXPECT().RetrieveNote(boosted).
		Return(&dto.Note{
			Id:           boosted,
			Type:         "Note",
			Url:          boosted,
			Published:    "2026-08-20T10:00:00Z",
			AttributedTo: fix.pixie.Id,
			To:           []string{shared.ActivityPublic},
			Content:      "<p>Boost me</p>",
		}, nil)

	announceId := "https://stardust.community/act/b1"
	announce := fmt.Appendf(nil,
		`{"id":%q,"type":"Announce","actor":%q,"to":[%q],"object":%q}`,
		announceId, fix.pixie.Id, shared.ActivityPublic, boosted)
	outcome, err := fix.inbox.Process(fix.pixie, announce)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)
	assert.Equal(t, boosted, outcome.Target)

	note, err := fix.storage.GetStatusRow(boosted)
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, dal.StatusNote, note.Type)
	row, err := fix.storage.GetStatusRow(announceId)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, dal.StatusAnnounce, row.Type)
	assert.Equal(t, boosted, row.OriginalStatusId)
}

func TestInboxCreateNoteFansOut(t *testing.T) {

	fix := newInboxFixture(t, "inbox-create-note")

	// alice follows pixie, so pixie's followers collection reaches her
	require.NoError(t, fix.storage.InsertFollow(&dal.Follow{
		Id: "f-alice-pixie", ActorId: fix.alice.Id, ActorHost: testHost,
		TargetActorId: fix.pixie.Id, TargetActorHost: "stardust.community",
		Status: dal.FollowAccepted, Inbox: fix.alice.InboxUrl,
	}))

	noteId := fix.pixie.Id + "/statuses/7"
	create := fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/c1","type":"Create","actor":%q,
		  "object":{"id":%q,"type":"Note","attributedTo":%q,"content":"<p>Hi all</p>",
		            "published":"2026-08-21T09:00:00Z",
		            "to":[%q],"cc":[%q]}}`,
		fix.pixie.Id, noteId, fix.pixie.Id, shared.ActivityPublic,
		fix.pixie.FollowersUrl)
	outcome, err := fix.inbox.Process(fix.pixie, create)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)
	assert.Equal(t, noteId, outcome.Target)

	entries, err := fix.storage.GetTimelineEntries(dal.TimelineMain, fix.alice.Id, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, noteId, entries[0].StatusId)
	entries, err = fix.storage.GetTimelineEntries(dal.TimelineNoAnnounce, fix.alice.Id, "", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInboxDelete(t *testing.T) {

	fix := newInboxFixture(t, "inbox-delete")

	noteId := fix.pixie.Id + "/statuses/5"
	require.NoError(t, fix.storage.InsertNote(&dal.CreateNoteParams{
		Id: noteId, ActorId: fix.pixie.Id,
	}))

	// Someone else's Delete is dropped
	intruder := storeRemoteActor(t, fix.storage, "mallow", "gloom.example")
	del := fmt.Appendf(nil,
		`{"id":"https://gloom.example/act/d1","type":"Delete","actor":%q,"object":%q}`,
		intruder.Id, noteId)
	outcome, err := fix.inbox.Process(intruder, del)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeIgnored, outcome.Code)
	status, err := fix.storage.GetStatusRow(noteId)
	require.NoError(t, err)
	require.NotNil(t, status)

	// The owner's Delete goes through
	del = fmt.Appendf(nil,
		`{"id":"https://stardust.community/act/d2","type":"Delete","actor":%q,"object":%q}`,
		fix.pixie.Id, noteId)
	outcome, err = fix.inbox.Process(fix.pixie, del)
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeAccepted, outcome.Code)
	status, err = fix.storage.GetStatusRow(noteId)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestInboxMalformedAndUnknown(t *testing.T) {

	fix := newInboxFixture(t, "inbox-malformed")

	outcome, err := fix.inbox.Process(fix.pixie, []byte(`{not json`))
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeIgnored, outcome.Code)

	outcome, err = fix.inbox.Process(fix.pixie,
		[]byte(`{"id":"https://stardust.community/act/x1","type":"Move","actor":"a","object":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, logic.OutcomeIgnored, outcome.Code)
}
