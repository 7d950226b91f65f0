package logic

import (
	"time"

	"github.com/google/uuid"

	"wren/dal"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_follow_ledger.go -package mocks wren/logic IFollowLedger

// IFollowLedger tracks follow relationships and their transitions.
// Transition methods return nil without error when no matching follow
// exists; callers treat that as not-found.
type IFollowLedger interface {
	CreateFollow(actorId, targetActorId string, status dal.FollowStatus) (*dal.Follow, error)
	AcceptFollow(actorId, targetActorId string) (*dal.Follow, error)
	RejectFollow(actorId, targetActorId string) (*dal.Follow, error)
	UndoFollow(actorId, targetActorId string) (*dal.Follow, error)
	GetFollowersInbox(targetActorId string) ([]string, error)
	GetLocalFollowersForActorId(targetActorId string) ([]*dal.Follow, error)
}

type followLedger struct {
	cfg     *shared.Config
	logger  shared.ILogger
	storage dal.IStorage
	actors  IActorDirectory
}

func NewFollowLedger(
	cfg *shared.Config,
	logger shared.ILogger,
	storage dal.IStorage,
	actors IActorDirectory,
) IFollowLedger {
	return &followLedger{cfg, logger, storage, actors}
}

// CreateFollow records a follow from actorId to targetActorId. If an
// Accepted or Requested follow already exists for the pair, that record
// is returned unchanged.
func (fl *followLedger) CreateFollow(actorId, targetActorId string, status dal.FollowStatus) (*dal.Follow, error) {

	existing, err := fl.storage.GetAcceptedOrRequestedFollow(actorId, targetActorId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	follower, err := fl.actors.GetOrFetchActor(actorId)
	if err != nil {
		return nil, err
	}
	actorHost, err := shared.GetHostName(actorId)
	if err != nil {
		return nil, err
	}
	targetHost, err := shared.GetHostName(targetActorId)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	follow := dal.Follow{
		Id:              uuid.NewString(),
		ActorId:         actorId,
		ActorHost:       actorHost,
		TargetActorId:   targetActorId,
		TargetActorHost: targetHost,
		Status:          status,
		Inbox:           follower.InboxUrl,
		SharedInbox:     follower.SharedInboxUrl,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = fl.storage.InsertFollow(&follow); err != nil {
		return nil, err
	}
	return &follow, nil
}

func (fl *followLedger) transition(
	actorId, targetActorId string, from []dal.FollowStatus, to dal.FollowStatus,
) (*dal.Follow, error) {

	follow, err := fl.storage.GetAcceptedOrRequestedFollow(actorId, targetActorId)
	if err != nil {
		return nil, err
	}
	if follow == nil {
		return nil, nil
	}
	eligible := false
	for _, status := range from {
		if follow.Status == status {
			eligible = true
			break
		}
	}
	if !eligible {
		return nil, nil
	}
	if err = fl.storage.UpdateFollowStatus(follow.Id, to); err != nil {
		return nil, err
	}
	follow.Status = to
	return follow, nil
}

func (fl *followLedger) AcceptFollow(actorId, targetActorId string) (*dal.Follow, error) {
	return fl.transition(actorId, targetActorId,
		[]dal.FollowStatus{dal.FollowRequested}, dal.FollowAccepted)
}

func (fl *followLedger) RejectFollow(actorId, targetActorId string) (*dal.Follow, error) {
	return fl.transition(actorId, targetActorId,
		[]dal.FollowStatus{dal.FollowRequested}, dal.FollowRejected)
}

func (fl *followLedger) UndoFollow(actorId, targetActorId string) (*dal.Follow, error) {
	return fl.transition(actorId, targetActorId,
		[]dal.FollowStatus{dal.FollowRequested, dal.FollowAccepted}, dal.FollowUndo)
}

// GetFollowersInbox returns the deduplicated delivery endpoints for all
// Accepted followers of targetActorId, preferring each follower's shared
// inbox over its personal one.
func (fl *followLedger) GetFollowersInbox(targetActorId string) ([]string, error) {

	follows, err := fl.storage.GetAcceptedFollows(targetActorId)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	res := make([]string, 0, len(follows))
	for _, follow := range follows {
		inbox := follow.SharedInbox
		if inbox == "" {
			inbox = follow.Inbox
		}
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		res = append(res, inbox)
	}
	return res, nil
}

// GetLocalFollowersForActorId returns the Accepted followers of
// targetActorId that live on this instance. When the target is remote,
// every recorded follower is necessarily local; when the target is
// local, followers are filtered against the known local domains.
func (fl *followLedger) GetLocalFollowersForActorId(targetActorId string) ([]*dal.Follow, error) {

	follows, err := fl.storage.GetAcceptedFollows(targetActorId)
	if err != nil {
		return nil, err
	}
	target, err := fl.storage.GetActorFromId(targetActorId)
	if err != nil {
		return nil, err
	}
	if target == nil || !target.IsLocal() {
		return follows, nil
	}

	domains, err := fl.storage.GetLocalDomains()
	if err != nil {
		return nil, err
	}
	isLocal := make(map[string]bool, len(domains))
	for _, domain := range domains {
		isLocal[domain] = true
	}
	res := make([]*dal.Follow, 0, len(follows))
	for _, follow := range follows {
		if isLocal[follow.ActorHost] {
			res = append(res, follow)
		}
	}
	return res, nil
}
