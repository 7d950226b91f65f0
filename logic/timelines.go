package logic

import (
	"strings"

	"wren/dal"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_timelines.go -package mocks wren/logic ITimelines

// Cap on followers-collection expansion; past it the rest is dropped.
const maxFanout = 5000

// ITimelines computes delivery recipients for a new status and writes
// the per-actor timeline rows.
type ITimelines interface {
	DeliverTo(to, cc []string) ([]string, error)
	AddStatusToTimelines(status *dal.Status) error
	GetTimeline(timeline dal.Timeline, ownerActorId, startAfterStatusId string, limit int) ([]*dal.Status, error)
}

type timelines struct {
	cfg     *shared.Config
	logger  shared.ILogger
	storage dal.IStorage
	ledger  IFollowLedger
}

func NewTimelines(
	cfg *shared.Config,
	logger shared.ILogger,
	storage dal.IStorage,
	ledger IFollowLedger,
) ITimelines {
	return &timelines{cfg, logger, storage, ledger}
}

// DeliverTo resolves to/cc into the ordered, deduplicated recipient
// list. The public marker is kept literally and always comes first;
// unknown actors are dropped; followers collections are expanded to the
// followers known locally.
func (tl *timelines) DeliverTo(to, cc []string) ([]string, error) {

	res := make([]string, 0, len(to)+len(cc))
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] && len(res) < maxFanout {
			seen[id] = true
			res = append(res, id)
		}
	}

	all := make([]string, 0, len(to)+len(cc))
	all = append(all, to...)
	all = append(all, cc...)

	for _, id := range all {
		if id == shared.ActivityPublic {
			add(id)
		}
	}
	for _, id := range all {
		if id == shared.ActivityPublic {
			continue
		}
		if shared.IsFollowersUrl(id) {
			ownerId := strings.TrimSuffix(id, "/followers")
			owner, err := tl.storage.GetActorFromFollowerUrl(id)
			if err != nil {
				return nil, err
			}
			if owner != nil {
				ownerId = owner.Id
			}
			follows, err := tl.ledger.GetLocalFollowersForActorId(ownerId)
			if err != nil {
				return nil, err
			}
			for _, follow := range follows {
				follower, err := tl.storage.GetActorFromId(follow.ActorId)
				if err != nil {
					return nil, err
				}
				if follower != nil {
					add(follower.Id)
				}
			}
			continue
		}
		actor, err := tl.storage.GetActorFromId(id)
		if err != nil {
			return nil, err
		}
		if actor != nil {
			add(id)
		}
	}
	return res, nil
}

// AddStatusToTimelines fans a freshly created status out to the resolved
// recipients. Every local recipient gets a MAIN row, plus a NOANNOUNCE
// row unless the status is an announce. A local-origin, public, non-reply
// note also lands once in the global local-public feed.
func (tl *timelines) AddStatusToTimelines(status *dal.Status) error {

	recipients, err := tl.DeliverTo(status.To, status.Cc)
	if err != nil {
		return err
	}

	for _, recipientId := range recipients {
		if recipientId == shared.ActivityPublic {
			continue
		}
		recipient, err := tl.storage.GetActorFromId(recipientId)
		if err != nil {
			return err
		}
		if recipient == nil || !recipient.IsLocal() {
			continue
		}
		if err = tl.storage.CreateTimelineEntry(dal.TimelineMain, recipientId, status); err != nil {
			return err
		}
		if status.Type != dal.StatusAnnounce {
			if err = tl.storage.CreateTimelineEntry(dal.TimelineNoAnnounce, recipientId, status); err != nil {
				return err
			}
		}
	}

	if status.Type == dal.StatusNote && status.Reply == "" && status.IsPublic() {
		origin, err := tl.storage.GetActorFromId(status.ActorId)
		if err != nil {
			return err
		}
		if origin != nil && origin.IsLocal() {
			if err = tl.storage.CreateTimelineEntry(dal.TimelineLocalPublic, "", status); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetTimeline pages through a timeline newest-first. The cursor is the
// id of the last status already seen; an unknown cursor yields an empty
// page.
func (tl *timelines) GetTimeline(
	timeline dal.Timeline, ownerActorId, startAfterStatusId string, limit int,
) ([]*dal.Status, error) {

	entries, err := tl.storage.GetTimelineEntries(timeline, ownerActorId, startAfterStatusId, limit)
	if err != nil {
		return nil, err
	}
	res := make([]*dal.Status, 0, len(entries))
	for _, entry := range entries {
		status, err := tl.storage.GetStatusRow(entry.StatusId)
		if err != nil {
			return nil, err
		}
		if status == nil {
			continue
		}
		res = append(res, status)
	}
	return res, nil
}
