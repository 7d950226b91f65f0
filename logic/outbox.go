package logic

import (
	"fmt"

	"github.com/google/uuid"

	"wren/dal"
	"wren/dto"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_outbox.go -package mocks wren/logic IOutbox

// IOutbox performs the actions a local account initiates: posting and
// deleting notes, following and unfollowing remote actors.
type IOutbox interface {
	PostNote(username, text, summary string) (*dal.Status, error)
	DeleteNote(username, statusId string) (found bool, err error)
	FollowActor(username, targetActorId string) error
	UnfollowActor(username, targetActorId string) error
}

type outbox struct {
	cfg         *shared.Config
	logger      shared.ILogger
	storage     dal.IStorage
	statuses    IStatusRepo
	timelines   ITimelines
	ledger      IFollowLedger
	actors      IActorDirectory
	broadcaster IBroadcaster
	idb         shared.IdBuilder
}

func NewOutbox(
	cfg *shared.Config,
	logger shared.ILogger,
	storage dal.IStorage,
	statuses IStatusRepo,
	timelines ITimelines,
	ledger IFollowLedger,
	actors IActorDirectory,
	broadcaster IBroadcaster,
) IOutbox {
	return &outbox{cfg, logger, storage, statuses, timelines, ledger, actors, broadcaster,
		shared.IdBuilder{Host: cfg.Host}}
}

func (ob *outbox) getLocalActor(username string) (*dal.Actor, error) {
	actor, err := ob.storage.GetActorFromUsername(username, ob.cfg.Host)
	if err != nil {
		return nil, err
	}
	if actor == nil || !actor.IsLocal() {
		return nil, fmt.Errorf("no local account: %s", username)
	}
	return actor, nil
}

// PostNote creates a public note by username, fans it out to local
// timelines, and broadcasts the Create to followers.
func (ob *outbox) PostNote(username, text, summary string) (*dal.Status, error) {

	actor, err := ob.getLocalActor(username)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	noteId := ob.idb.Status(username, id)
	note := dto.Note{
		Id:           noteId,
		Type:         "Note",
		Url:          noteId,
		Summary:      &summary,
		AttributedTo: actor.Id,
		To:           []string{shared.ActivityPublic},
		Cc:           []string{ob.idb.ActorFollowers(username)},
		Content:      text,
	}

	status, err := ob.statuses.CreateNote(actor.Id, &note)
	if err != nil {
		return nil, err
	}
	if err = ob.timelines.AddStatusToTimelines(status); err != nil {
		return nil, err
	}

	to := note.To
	cc := note.Cc
	activity := dto.ActivityOut{
		Context: "https://www.w3.org/ns/activitystreams",
		Id:      ob.idb.StatusActivity(username, id),
		Type:    "Create",
		Actor:   actor.Id,
		To:      &to,
		Cc:      &cc,
		Object:  &note,
	}
	if err = ob.broadcaster.Broadcast(actor, &activity); err != nil {
		ob.logger.Warnf("Failed to broadcast note %s: %v", noteId, err)
	}
	return status, nil
}

// DeleteNote removes one of the account's own statuses, replies and all.
func (ob *outbox) DeleteNote(username, statusId string) (bool, error) {

	actor, err := ob.getLocalActor(username)
	if err != nil {
		return false, err
	}
	status, err := ob.storage.GetStatusRow(statusId)
	if err != nil {
		return false, err
	}
	if status == nil || status.ActorId != actor.Id {
		return false, nil
	}
	if err = ob.statuses.DeleteStatus(statusId); err != nil {
		return false, err
	}

	to := []string{shared.ActivityPublic}
	activity := dto.ActivityOut{
		Context: "https://www.w3.org/ns/activitystreams",
		Id:      statusId + "#delete",
		Type:    "Delete",
		Actor:   actor.Id,
		To:      &to,
		Object:  statusId,
	}
	if err = ob.broadcaster.Broadcast(actor, &activity); err != nil {
		ob.logger.Warnf("Failed to broadcast delete of %s: %v", statusId, err)
	}
	return true, nil
}

// FollowActor records a Requested follow and delivers the Follow
// activity to the target's inbox.
func (ob *outbox) FollowActor(username, targetActorId string) error {

	actor, err := ob.getLocalActor(username)
	if err != nil {
		return err
	}
	target, err := ob.actors.GetOrFetchActor(targetActorId)
	if err != nil {
		return err
	}

	follow, err := ob.ledger.CreateFollow(actor.Id, target.Id, dal.FollowRequested)
	if err != nil {
		return err
	}

	activity := dto.ActivityOut{
		Context: "https://www.w3.org/ns/activitystreams",
		Id:      ob.idb.FollowActivity(follow.Id),
		Type:    "Follow",
		Actor:   actor.Id,
		Object:  target.Id,
	}
	return ob.broadcaster.SendToInbox(actor, target.InboxUrl, &activity)
}

// UnfollowActor transitions the follow to Undo and tells the target.
func (ob *outbox) UnfollowActor(username, targetActorId string) error {

	actor, err := ob.getLocalActor(username)
	if err != nil {
		return err
	}
	follow, err := ob.ledger.UndoFollow(actor.Id, targetActorId)
	if err != nil {
		return err
	}
	if follow == nil {
		return fmt.Errorf("%s does not follow %s", username, targetActorId)
	}
	target, err := ob.actors.GetOrFetchActor(targetActorId)
	if err != nil {
		return err
	}

	activity := dto.ActivityOut{
		Context: "https://www.w3.org/ns/activitystreams",
		Id:      ob.idb.UndoActivity(follow.Id),
		Type:    "Undo",
		Actor:   actor.Id,
		Object: dto.ActivityOut{
			Id:     ob.idb.FollowActivity(follow.Id),
			Type:   "Follow",
			Actor:  actor.Id,
			Object: targetActorId,
		},
	}
	return ob.broadcaster.SendToInbox(actor, target.InboxUrl, &activity)
}
