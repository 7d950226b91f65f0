package logic

import (
	"time"

	"wren/dal"
	"wren/dto"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_inbox.go -package mocks wren/logic IInbox

type OutcomeCode int

const (
	// Activity dispatched and applied
	OutcomeAccepted OutcomeCode = iota
	// Activity dropped without effect; still a success to the sender
	OutcomeIgnored
	// Activity references an unknown actor, status or follow
	OutcomeNotFound
)

// Outcome is what an inbound activity amounted to. Target names the
// entity the activity acted on, when there is one.
type Outcome struct {
	Code   OutcomeCode
	Target string
}

func accepted(target string) *Outcome { return &Outcome{OutcomeAccepted, target} }
func ignored() *Outcome               { return &Outcome{OutcomeIgnored, ""} }
func notFound() *Outcome              { return &Outcome{OutcomeNotFound, ""} }

// IInbox dispatches authenticated inbound activities. Process never
// fails on bad input; unknown or malformed activities are dropped.
type IInbox interface {
	Process(sender *dal.Actor, bodyBytes []byte) (*Outcome, error)
}

type inbox struct {
	cfg         *shared.Config
	logger      shared.ILogger
	storage     dal.IStorage
	compactor   ICompactor
	ledger      IFollowLedger
	statuses    IStatusRepo
	timelines   ITimelines
	actors      IActorDirectory
	retriever   IRemoteRetriever
	broadcaster IBroadcaster
	metrics     IMetrics
	idb         shared.IdBuilder
}

func NewInbox(
	cfg *shared.Config,
	logger shared.ILogger,
	storage dal.IStorage,
	compactor ICompactor,
	ledger IFollowLedger,
	statuses IStatusRepo,
	timelines ITimelines,
	actors IActorDirectory,
	retriever IRemoteRetriever,
	broadcaster IBroadcaster,
	metrics IMetrics,
) IInbox {
	return &inbox{cfg, logger, storage, compactor, ledger, statuses, timelines,
		actors, retriever, broadcaster, metrics, shared.IdBuilder{Host: cfg.Host}}
}

func (ib *inbox) Process(sender *dal.Actor, bodyBytes []byte) (*Outcome, error) {

	act, err := ib.compactor.Compact(bodyBytes)
	if err != nil {
		ib.logger.Infof("Dropping malformed activity: %v", err)
		ib.metrics.ActivityIgnored()
		return ignored(), nil
	}

	if act.Id != "" {
		alreadyHandled, err := ib.storage.MarkActivityHandled(act.Id, time.Now().UnixMilli())
		if err != nil {
			return nil, err
		}
		if alreadyHandled {
			ib.logger.Infof("Activity has already been handled: %s", act.Id)
			return accepted(""), nil
		}
	}

	ib.metrics.ActivityIn(string(act.Kind))

	switch act.Kind {
	case ActFollow:
		return ib.handleFollow(act)
	case ActAccept:
		return ib.handleAccept(act)
	case ActReject:
		return ib.handleReject(act)
	case ActUndoFollow:
		return ib.handleUndoFollow(act)
	case ActLike:
		return ib.handleLike(act)
	case ActUndoLike:
		return ib.handleUndoLike(act)
	case ActAnnounce:
		return ib.handleAnnounce(act)
	case ActCreateNote:
		return ib.handleCreateNote(act)
	case ActDelete:
		return ib.handleDelete(act)
	}

	ib.logger.Infof("Ignoring activity %s from %s", act.Id, act.Actor)
	ib.metrics.ActivityIgnored()
	return ignored(), nil
}

// handleFollow records the follower and accepts right away; there is no
// approval queue. A repeated Follow returns the existing record.
func (ib *inbox) handleFollow(act *Activity) (*Outcome, error) {

	ib.logger.Infof("Handling Follow of %s by %s", act.Object, act.Actor)

	target, err := ib.storage.GetActorFromId(act.Object)
	if err != nil {
		return nil, err
	}
	if target == nil || !target.IsLocal() {
		ib.logger.Infof("Follow target does not exist here: %s", act.Object)
		return notFound(), nil
	}

	follow, err := ib.ledger.CreateFollow(act.Actor, target.Id, dal.FollowAccepted)
	if err != nil {
		return nil, err
	}
	if follow.Status == dal.FollowRequested {
		if _, err = ib.ledger.AcceptFollow(act.Actor, target.Id); err != nil {
			return nil, err
		}
	}

	follower, err := ib.actors.GetOrFetchActor(act.Actor)
	if err != nil {
		return nil, err
	}
	acceptActivity := dto.ActivityOut{
		Context: "https://www.w3.org/ns/activitystreams",
		Id:      ib.idb.AcceptActivity(follow.Id),
		Type:    "Accept",
		Actor:   target.Id,
		Object: map[string]any{
			"id":     act.Id,
			"type":   "Follow",
			"actor":  act.Actor,
			"object": target.Id,
		},
	}
	if err = ib.broadcaster.SendToInbox(target, follower.InboxUrl, &acceptActivity); err != nil {
		ib.logger.Warnf("Failed to deliver Accept for follow %s: %v", follow.Id, err)
	}
	return accepted(target.Id), nil
}

func (ib *inbox) handleAccept(act *Activity) (*Outcome, error) {

	follow, err := ib.ledger.AcceptFollow(act.ObjectActor, act.Object)
	if err != nil {
		return nil, err
	}
	if follow == nil {
		ib.logger.Infof("Accept with no matching follow: %s -> %s", act.ObjectActor, act.Object)
		return notFound(), nil
	}
	return accepted(act.Object), nil
}

func (ib *inbox) handleReject(act *Activity) (*Outcome, error) {

	follow, err := ib.ledger.RejectFollow(act.ObjectActor, act.Object)
	if err != nil {
		return nil, err
	}
	if follow == nil {
		ib.logger.Infof("Reject with no matching follow: %s -> %s", act.ObjectActor, act.Object)
		return notFound(), nil
	}
	return accepted(act.Object), nil
}

func (ib *inbox) handleUndoFollow(act *Activity) (*Outcome, error) {

	actorId := act.ObjectActor
	if actorId == "" {
		actorId = act.Actor
	}
	follow, err := ib.ledger.UndoFollow(actorId, act.Object)
	if err != nil {
		return nil, err
	}
	if follow == nil {
		ib.logger.Infof("Undo with no matching follow: %s -> %s", actorId, act.Object)
		return notFound(), nil
	}
	return accepted(act.Object), nil
}

func (ib *inbox) handleLike(act *Activity) (*Outcome, error) {

	if err := ib.statuses.CreateLike(act.Actor, act.Object); err != nil {
		return nil, err
	}
	return accepted(act.Object), nil
}

func (ib *inbox) handleUndoLike(act *Activity) (*Outcome, error) {

	if err := ib.statuses.DeleteLike(act.Actor, act.Object); err != nil {
		return nil, err
	}
	return accepted(act.Object), nil
}

// handleAnnounce materializes the boosted note first if it is not known
// locally. A failed fetch aborts the whole operation before anything is
// written.
func (ib *inbox) handleAnnounce(act *Activity) (*Outcome, error) {

	ib.logger.Infof("Handling Announce of %s by %s", act.Object, act.Actor)

	original, err := ib.storage.GetStatusRow(act.Object)
	if err != nil {
		return nil, err
	}
	if original == nil {
		note, err := ib.retriever.RetrieveNote(act.Object)
		if err != nil {
			ib.logger.Warnf("Failed to retrieve boosted note %s: %v", act.Object, err)
			return notFound(), nil
		}
		if _, err = ib.actors.GetOrFetchActor(note.AttributedTo); err != nil {
			ib.logger.Warnf("Failed to retrieve author of boosted note %s: %v", act.Object, err)
			return notFound(), nil
		}
		if _, err = ib.statuses.CreateNote(note.AttributedTo, note); err != nil {
			return nil, err
		}
	}

	announce, err := ib.statuses.CreateAnnounce(act.Id, act.Actor, act.To, act.Cc, act.Object)
	if err != nil {
		return nil, err
	}
	if announce == nil {
		return notFound(), nil
	}
	if err = ib.timelines.AddStatusToTimelines(announce); err != nil {
		return nil, err
	}
	return accepted(act.Object), nil
}

func (ib *inbox) handleCreateNote(act *Activity) (*Outcome, error) {

	ib.logger.Infof("Handling Create(Note) %s by %s", act.Object, act.Actor)

	status, err := ib.statuses.CreateNote(act.Actor, act.Note)
	if err != nil {
		return nil, err
	}
	if err = ib.timelines.AddStatusToTimelines(status); err != nil {
		return nil, err
	}
	return accepted(status.Id), nil
}

// handleDelete removes the status if the sender owns it; everything else
// about a Delete is silently dropped.
func (ib *inbox) handleDelete(act *Activity) (*Outcome, error) {

	status, err := ib.storage.GetStatusRow(act.Object)
	if err != nil {
		return nil, err
	}
	if status == nil || status.ActorId != act.Actor {
		ib.metrics.ActivityIgnored()
		return ignored(), nil
	}
	if err = ib.statuses.DeleteStatus(act.Object); err != nil {
		return nil, err
	}
	return accepted(act.Object), nil
}
