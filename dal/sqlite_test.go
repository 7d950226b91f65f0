package dal_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wren/dal"
	"wren/shared"
)

const testHost = "wren.test"

type nopLogger struct{}

func (nopLogger) Debug(msg interface{}, keyvals ...interface{}) {}
func (nopLogger) Debugf(format string, args ...interface{})     {}
func (nopLogger) Info(msg interface{}, keyvals ...interface{})  {}
func (nopLogger) Infof(format string, args ...interface{})      {}
func (nopLogger) Warn(msg interface{}, keyvals ...interface{})  {}
func (nopLogger) Warnf(format string, args ...interface{})      {}
func (nopLogger) Error(msg interface{}, keyvals ...interface{}) {}
func (nopLogger) Errorf(format string, args ...interface{})     {}
func (nopLogger) Printf(format string, args ...interface{})     {}

func newTestStorage(t *testing.T, name string) dal.IStorage {
	cfg := &shared.Config{
		Host: testHost,
		Storage: shared.StorageConfig{
			Backend: shared.StorageBackendSqlite,
			DbFile:  fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		},
	}
	storage := dal.NewSqliteStorage(cfg, nopLogger{})
	require.NoError(t, storage.Init())
	return storage
}

func makeRemoteActor(t *testing.T, storage dal.IStorage, username, domain string) *dal.Actor {
	actor, err := storage.CreateActor(&dal.CreateActorParams{
		ActorId:        fmt.Sprintf("https://%s/users/%s", domain, username),
		Username:       username,
		Domain:         domain,
		FollowersUrl:   fmt.Sprintf("https://%s/users/%s/followers", domain, username),
		InboxUrl:       fmt.Sprintf("https://%s/users/%s/inbox", domain, username),
		SharedInboxUrl: fmt.Sprintf("https://%s/inbox", domain),
		PublicKey:      "PEM",
	})
	require.NoError(t, err)
	require.NotNil(t, actor)
	return actor
}

func TestCreateAccount(t *testing.T) {

	storage := newTestStorage(t, "create-account")

	accountId, err := storage.CreateAccount(&dal.CreateAccountParams{
		Email:      "alice@example.com",
		Username:   "alice",
		Domain:     testHost,
		PublicKey:  "PUB",
		PrivateKey: "PRIV",
	})
	require.NoError(t, err)

	exists, err := storage.IsAccountExists("alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	account, err := storage.GetAccountFromId(accountId)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "alice@example.com", account.Email)

	actor, err := storage.GetActorFromUsername("alice", testHost)
	require.NoError(t, err)
	require.NotNil(t, actor)
	assert.True(t, actor.IsLocal())
	assert.Equal(t, "https://wren.test/users/alice", actor.Id)

	byEmail, err := storage.GetActorFromEmail("alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, actor.Id, byEmail.Id)

	domains, err := storage.GetLocalDomains()
	require.NoError(t, err)
	assert.Contains(t, domains, testHost)

	// Same email again must fail loudly
	_, err = storage.CreateAccount(&dal.CreateAccountParams{
		Email: "alice@example.com", Username: "alice2", Domain: testHost,
	})
	assert.Error(t, err)
}

func TestActorLookups(t *testing.T) {

	storage := newTestStorage(t, "actor-lookups")

	actor := makeRemoteActor(t, storage, "pixie", "stardust.community")
	assert.False(t, actor.IsLocal())

	byFlw, err := storage.GetActorFromFollowerUrl(actor.FollowersUrl)
	require.NoError(t, err)
	require.NotNil(t, byFlw)
	assert.Equal(t, actor.Id, byFlw.Id)

	// Creating the same actor again returns the existing record
	again := makeRemoteActor(t, storage, "pixie", "stardust.community")
	assert.Equal(t, actor.Id, again.Id)

	updated, err := storage.UpdateActor(&dal.UpdateActorParams{
		ActorId: actor.Id,
		Name:    "Pixie",
	})
	require.NoError(t, err)
	assert.Equal(t, "Pixie", updated.Name)
	// Untouched fields survive the update
	assert.Equal(t, actor.InboxUrl, updated.InboxUrl)

	missing, err := storage.GetActorFromId("https://nowhere.example/users/nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func insertFollow(t *testing.T, storage dal.IStorage, id, actorId, targetId string, status dal.FollowStatus, createdAt int64) {
	actorHost, _ := shared.GetHostName(actorId)
	targetHost, _ := shared.GetHostName(targetId)
	err := storage.InsertFollow(&dal.Follow{
		Id:              id,
		ActorId:         actorId,
		ActorHost:       actorHost,
		TargetActorId:   targetId,
		TargetActorHost: targetHost,
		Status:          status,
		Inbox:           actorId + "/inbox",
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	})
	require.NoError(t, err)
}

func TestFollowLifecycle(t *testing.T) {

	storage := newTestStorage(t, "follow-lifecycle")

	follower := "https://stardust.community/users/pixie"
	target := "https://wren.test/users/alice"

	insertFollow(t, storage, "f1", follower, target, dal.FollowRequested, 1000)

	follow, err := storage.GetAcceptedOrRequestedFollow(follower, target)
	require.NoError(t, err)
	require.NotNil(t, follow)
	assert.Equal(t, dal.FollowRequested, follow.Status)

	require.NoError(t, storage.UpdateFollowStatus("f1", dal.FollowAccepted))

	following, err := storage.IsCurrentActorFollowing(follower, target)
	require.NoError(t, err)
	assert.True(t, following)

	count, err := storage.GetActorFollowersCount(target)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = storage.GetActorFollowingCount(follower)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	accepted, err := storage.GetAcceptedFollows(target)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "f1", accepted[0].Id)

	require.NoError(t, storage.UpdateFollowStatus("f1", dal.FollowUndo))
	following, err = storage.IsCurrentActorFollowing(follower, target)
	require.NoError(t, err)
	assert.False(t, following)

	follow, err = storage.GetAcceptedOrRequestedFollow(follower, target)
	require.NoError(t, err)
	assert.Nil(t, follow)
}

func TestNoteRoundTrip(t *testing.T) {

	storage := newTestStorage(t, "note-round-trip")

	noteId := "https://stardust.community/users/pixie/statuses/1"
	err := storage.InsertNote(&dal.CreateNoteParams{
		Id:      noteId,
		Url:     noteId,
		ActorId: "https://stardust.community/users/pixie",
		Text:    "<p>Henlo</p>",
		Summary: "",
		To:      []string{shared.ActivityPublic},
		Cc:      []string{"https://stardust.community/users/pixie/followers"},
	})
	require.NoError(t, err)

	// Duplicate insert is a silent no-op
	err = storage.InsertNote(&dal.CreateNoteParams{
		Id: noteId, ActorId: "https://stardust.community/users/pixie",
	})
	require.NoError(t, err)

	status, err := storage.GetStatusRow(noteId)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, dal.StatusNote, status.Type)
	assert.Equal(t, "<p>Henlo</p>", status.Text)
	assert.Equal(t, []string{shared.ActivityPublic}, status.To)
	assert.Equal(t, []string{"https://stardust.community/users/pixie/followers"}, status.Cc)
	assert.True(t, status.IsPublic())

	_, err = storage.CreateAttachment(&dal.CreateAttachmentParams{
		StatusId: noteId, MediaType: "image/png", Url: "https://files.example/1.png",
	})
	require.NoError(t, err)
	_, err = storage.CreateTag(&dal.CreateTagParams{
		StatusId: noteId, Type: "Hashtag", Name: "#birds", Value: "https://wren.test/tags/birds",
	})
	require.NoError(t, err)

	status, err = storage.GetStatusRow(noteId)
	require.NoError(t, err)
	require.Len(t, status.Attachments, 1)
	require.Len(t, status.Tags, 1)
	assert.Equal(t, "image/png", status.Attachments[0].MediaType)
	assert.Equal(t, "#birds", status.Tags[0].Name)
}

func TestLikesAreSetSemantics(t *testing.T) {

	storage := newTestStorage(t, "likes-set")

	noteId := "https://wren.test/users/alice/statuses/1"
	require.NoError(t, storage.InsertNote(&dal.CreateNoteParams{
		Id: noteId, ActorId: "https://wren.test/users/alice",
	}))

	liker := "https://stardust.community/users/pixie"
	require.NoError(t, storage.CreateLike(liker, noteId))
	require.NoError(t, storage.CreateLike(liker, noteId))

	count, err := storage.GetLikeCount(noteId)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	liked, err := storage.IsActorLikedStatus(liker, noteId)
	require.NoError(t, err)
	assert.True(t, liked)

	require.NoError(t, storage.DeleteLike(liker, noteId))
	// Deleting again is a no-op
	require.NoError(t, storage.DeleteLike(liker, noteId))
	count, err = storage.GetLikeCount(noteId)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTimelinePaging(t *testing.T) {

	storage := newTestStorage(t, "timeline-paging")

	owner := "https://wren.test/users/alice"
	statuses := make([]*dal.Status, 0, 5)
	for i := 1; i <= 5; i += 1 {
		id := fmt.Sprintf("https://wren.test/users/alice/statuses/%d", i)
		require.NoError(t, storage.InsertNote(&dal.CreateNoteParams{Id: id, ActorId: owner}))
		status, err := storage.GetStatusRow(id)
		require.NoError(t, err)
		statuses = append(statuses, status)
		require.NoError(t, storage.CreateTimelineEntry(dal.TimelineMain, owner, status))
	}
	// Repeated insertion does not create another row
	require.NoError(t, storage.CreateTimelineEntry(dal.TimelineMain, owner, statuses[0]))

	entries, err := storage.GetTimelineEntries(dal.TimelineMain, owner, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	// Newest insertion first
	assert.Equal(t, statuses[4].Id, entries[0].StatusId)
	assert.Equal(t, statuses[0].Id, entries[4].StatusId)

	// Page after the third-newest status
	entries, err = storage.GetTimelineEntries(dal.TimelineMain, owner, statuses[2].Id, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, statuses[1].Id, entries[0].StatusId)
	assert.Equal(t, statuses[0].Id, entries[1].StatusId)

	// Unknown cursor yields an empty page
	entries, err = storage.GetTimelineEntries(dal.TimelineMain, owner, "https://nowhere.example/s/1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteStatusRows(t *testing.T) {

	storage := newTestStorage(t, "delete-status-rows")

	owner := "https://wren.test/users/alice"
	noteId := "https://wren.test/users/alice/statuses/1"
	require.NoError(t, storage.InsertNote(&dal.CreateNoteParams{
		Id: noteId, ActorId: owner, To: []string{shared.ActivityPublic},
	}))
	_, err := storage.CreateAttachment(&dal.CreateAttachmentParams{StatusId: noteId, Url: "https://files.example/1.png"})
	require.NoError(t, err)
	_, err = storage.CreateTag(&dal.CreateTagParams{StatusId: noteId, Type: "Hashtag", Name: "#x"})
	require.NoError(t, err)
	require.NoError(t, storage.CreateLike("https://stardust.community/users/pixie", noteId))
	status, err := storage.GetStatusRow(noteId)
	require.NoError(t, err)
	require.NoError(t, storage.CreateTimelineEntry(dal.TimelineMain, owner, status))

	require.NoError(t, storage.DeleteStatusRows(noteId))

	status, err = storage.GetStatusRow(noteId)
	require.NoError(t, err)
	assert.Nil(t, status)
	attachments, err := storage.GetAttachments(noteId)
	require.NoError(t, err)
	assert.Empty(t, attachments)
	tags, err := storage.GetTags(noteId)
	require.NoError(t, err)
	assert.Empty(t, tags)
	count, err := storage.GetLikeCount(noteId)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	entries, err := storage.GetTimelineEntries(dal.TimelineMain, owner, "", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReplyIds(t *testing.T) {

	storage := newTestStorage(t, "reply-ids")

	owner := "https://wren.test/users/alice"
	parent := "https://wren.test/users/alice/statuses/parent"
	require.NoError(t, storage.InsertNote(&dal.CreateNoteParams{Id: parent, ActorId: owner}))
	require.NoError(t, storage.InsertNote(&dal.CreateNoteParams{
		Id: "https://wren.test/users/alice/statuses/r1", ActorId: owner, Reply: parent, CreatedAt: 1000,
	}))
	require.NoError(t, storage.InsertNote(&dal.CreateNoteParams{
		Id: "https://wren.test/users/alice/statuses/r2", ActorId: owner, Reply: parent, CreatedAt: 2000,
	}))

	replyIds, err := storage.GetStatusReplyIds(parent)
	require.NoError(t, err)
	assert.Len(t, replyIds, 2)

	topLevel, err := storage.GetActorStatusIds(owner)
	require.NoError(t, err)
	assert.Equal(t, []string{parent}, topLevel)

	total, err := storage.GetActorStatusesCount(owner)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestMarkActivityHandled(t *testing.T) {

	storage := newTestStorage(t, "mark-activity-handled")

	already, err := storage.MarkActivityHandled("https://stardust.community/activities/1", 1000)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = storage.MarkActivityHandled("https://stardust.community/activities/1", 2000)
	require.NoError(t, err)
	assert.True(t, already)
}
