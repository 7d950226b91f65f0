package dal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"wren/shared"
)

// redisStorage is the document adapter. Entities are stored as JSON
// documents under murmur3-hashed keys, with plain sets and sorted sets as
// secondary indexes. Multi-row writes run as a best-effort sequence of
// independent commands; observable behavior matches the relational adapter.
type redisStorage struct {
	cfg    *shared.Config
	logger shared.ILogger
	client *redis.Client
}

func NewRedisStorage(cfg *shared.Config, logger shared.ILogger) IStorage {

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
		DB:       cfg.Storage.RedisDb,
	})

	return &redisStorage{
		cfg:    cfg,
		logger: logger,
		client: client,
	}
}

func (repo *redisStorage) Init() error {
	if err := repo.client.Ping().Err(); err != nil {
		return fmt.Errorf("failed to ping redis at %s: %w", repo.cfg.Storage.RedisAddr, err)
	}
	return nil
}

// urlKey shortens an arbitrary URL or id into a fixed-length key segment.
func urlKey(id string) string {
	return strconv.FormatUint(murmur3.Sum64([]byte(id)), 16)
}

func (repo *redisStorage) getJson(key string, v any) (found bool, err error) {
	str, err := repo.client.Get(key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err = json.Unmarshal([]byte(str), v); err != nil {
		return false, err
	}
	return true, nil
}

func (repo *redisStorage) setJson(key string, v any) error {
	bytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return repo.client.Set(key, string(bytes), 0).Err()
}

// ---------------------------------------------------------------------------
// Accounts and actors

func (repo *redisStorage) IsAccountExists(email string) (bool, error) {
	n, err := repo.client.Exists("acct:email:" + email).Result()
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func (repo *redisStorage) CreateAccount(p *CreateAccountParams) (string, error) {

	accountId := uuid.NewString()
	actorId := fmt.Sprintf("https://%s/users/%s", p.Domain, p.Username)
	now := nowMillis()

	ok, err := repo.client.SetNX("acct:email:"+p.Email, accountId, 0).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("account already exists: %s", p.Email)
	}

	account := Account{Id: accountId, Email: p.Email, CreatedAt: now, UpdatedAt: now}
	if err = repo.setJson("acct:"+accountId, &account); err != nil {
		return "", err
	}
	actor := Actor{
		Id:             actorId,
		AccountId:      accountId,
		Username:       p.Username,
		Domain:         p.Domain,
		FollowersUrl:   actorId + "/followers",
		InboxUrl:       actorId + "/inbox",
		SharedInboxUrl: fmt.Sprintf("https://%s/inbox", p.Domain),
		PublicKey:      p.PublicKey,
		PrivateKey:     p.PrivateKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err = repo.storeActor(&actor); err != nil {
		return "", err
	}
	return accountId, nil
}

func (repo *redisStorage) GetAccountFromId(id string) (*Account, error) {
	var res Account
	found, err := repo.getJson("acct:"+id, &res)
	if err != nil || !found {
		return nil, err
	}
	return &res, nil
}

func (repo *redisStorage) IsUsernameExists(username, domain string) (bool, error) {
	n, err := repo.client.Exists("actor:name:" + username + "@" + domain).Result()
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func (repo *redisStorage) storeActor(actor *Actor) error {
	if err := repo.setJson("actor:"+urlKey(actor.Id), actor); err != nil {
		return err
	}
	if err := repo.client.Set("actor:name:"+actor.Username+"@"+actor.Domain, actor.Id, 0).Err(); err != nil {
		return err
	}
	if actor.FollowersUrl != "" {
		if err := repo.client.Set("actor:flwurl:"+urlKey(actor.FollowersUrl), actor.Id, 0).Err(); err != nil {
			return err
		}
	}
	if actor.AccountId != "" {
		account, err := repo.GetAccountFromId(actor.AccountId)
		if err != nil {
			return err
		}
		if account != nil {
			if err = repo.client.Set("actor:email:"+account.Email, actor.Id, 0).Err(); err != nil {
				return err
			}
		}
	}
	if actor.IsLocal() {
		if err := repo.client.SAdd("local_domains", actor.Domain).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (repo *redisStorage) CreateActor(p *CreateActorParams) (*Actor, error) {

	existing, err := repo.GetActorFromId(p.ActorId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	now := nowMillis()
	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	actor := Actor{
		Id:             p.ActorId,
		Username:       p.Username,
		Domain:         p.Domain,
		Name:           p.Name,
		Summary:        p.Summary,
		IconUrl:        p.IconUrl,
		FollowersUrl:   p.FollowersUrl,
		InboxUrl:       p.InboxUrl,
		SharedInboxUrl: p.SharedInboxUrl,
		PublicKey:      p.PublicKey,
		PrivateKey:     p.PrivateKey,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}
	if err = repo.storeActor(&actor); err != nil {
		return nil, err
	}
	return &actor, nil
}

func (repo *redisStorage) GetActorFromId(id string) (*Actor, error) {
	var res Actor
	found, err := repo.getJson("actor:"+urlKey(id), &res)
	if err != nil || !found {
		return nil, err
	}
	return &res, nil
}

func (repo *redisStorage) getActorFromIndex(key string) (*Actor, error) {
	actorId, err := repo.client.Get(key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return repo.GetActorFromId(actorId)
}

func (repo *redisStorage) GetActorFromUsername(username, domain string) (*Actor, error) {
	return repo.getActorFromIndex("actor:name:" + username + "@" + domain)
}

func (repo *redisStorage) GetActorFromEmail(email string) (*Actor, error) {
	return repo.getActorFromIndex("actor:email:" + email)
}

func (repo *redisStorage) UpdateActor(p *UpdateActorParams) (*Actor, error) {

	actor, err := repo.GetActorFromId(p.ActorId)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, nil
	}
	setField := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	setField(&actor.Name, p.Name)
	setField(&actor.Summary, p.Summary)
	setField(&actor.IconUrl, p.IconUrl)
	setField(&actor.PublicKey, p.PublicKey)
	setField(&actor.FollowersUrl, p.FollowersUrl)
	setField(&actor.InboxUrl, p.InboxUrl)
	setField(&actor.SharedInboxUrl, p.SharedInboxUrl)
	actor.UpdatedAt = nowMillis()
	if err = repo.storeActor(actor); err != nil {
		return nil, err
	}
	return actor, nil
}

func (repo *redisStorage) DeleteActor(actorId string) error {

	actor, err := repo.GetActorFromId(actorId)
	if err != nil || actor == nil {
		return err
	}
	if err = repo.client.Del("actor:name:" + actor.Username + "@" + actor.Domain).Err(); err != nil {
		return err
	}
	if actor.FollowersUrl != "" {
		if err = repo.client.Del("actor:flwurl:" + urlKey(actor.FollowersUrl)).Err(); err != nil {
			return err
		}
	}
	return repo.client.Del("actor:" + urlKey(actorId)).Err()
}

func (repo *redisStorage) GetLocalDomains() ([]string, error) {
	return repo.client.SMembers("local_domains").Result()
}

// ---------------------------------------------------------------------------
// Follows

func followPairKey(actorId, targetActorId string) string {
	return "follow:pair:" + urlKey(actorId) + ":" + urlKey(targetActorId)
}

func (repo *redisStorage) InsertFollow(follow *Follow) error {

	if err := repo.setJson("follow:"+follow.Id, follow); err != nil {
		return err
	}
	entry := redis.Z{Score: float64(follow.CreatedAt), Member: follow.Id}
	if err := repo.client.ZAdd(followPairKey(follow.ActorId, follow.TargetActorId), entry).Err(); err != nil {
		return err
	}
	if err := repo.client.ZAdd("follow:actor:"+urlKey(follow.ActorId), entry).Err(); err != nil {
		return err
	}
	return repo.client.ZAdd("follow:target:"+urlKey(follow.TargetActorId), entry).Err()
}

func (repo *redisStorage) GetFollowFromId(followId string) (*Follow, error) {
	var res Follow
	found, err := repo.getJson("follow:"+followId, &res)
	if err != nil || !found {
		return nil, err
	}
	return &res, nil
}

func (repo *redisStorage) getFollows(indexKey string, statuses ...FollowStatus) ([]*Follow, error) {
	ids, err := repo.client.ZRevRange(indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	res := make([]*Follow, 0, len(ids))
	for _, id := range ids {
		follow, err := repo.GetFollowFromId(id)
		if err != nil {
			return nil, err
		}
		if follow == nil {
			continue
		}
		for _, status := range statuses {
			if follow.Status == status {
				res = append(res, follow)
				break
			}
		}
	}
	return res, nil
}

func (repo *redisStorage) GetAcceptedOrRequestedFollow(actorId, targetActorId string) (*Follow, error) {
	follows, err := repo.getFollows(followPairKey(actorId, targetActorId), FollowAccepted, FollowRequested)
	if err != nil {
		return nil, err
	}
	if len(follows) == 0 {
		return nil, nil
	}
	return follows[0], nil
}

func (repo *redisStorage) GetAcceptedFollows(targetActorId string) ([]*Follow, error) {
	return repo.getFollows("follow:target:"+urlKey(targetActorId), FollowAccepted)
}

func (repo *redisStorage) UpdateFollowStatus(followId string, status FollowStatus) error {

	follow, err := repo.GetFollowFromId(followId)
	if err != nil {
		return err
	}
	if follow == nil {
		return fmt.Errorf("no such follow: %s", followId)
	}
	follow.Status = status
	follow.UpdatedAt = nowMillis()
	return repo.setJson("follow:"+followId, follow)
}

func (repo *redisStorage) IsCurrentActorFollowing(currentActorId, followingActorId string) (bool, error) {
	follows, err := repo.getFollows(followPairKey(currentActorId, followingActorId), FollowAccepted)
	if err != nil {
		return false, err
	}
	return len(follows) != 0, nil
}

func (repo *redisStorage) GetActorFollowingCount(actorId string) (int, error) {

	// Scan the actor's outgoing pairs is not possible from the pair index
	// alone; keep a dedicated outgoing index.
	ids, err := repo.client.ZRevRange("follow:actor:"+urlKey(actorId), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		follow, err := repo.GetFollowFromId(id)
		if err != nil {
			return 0, err
		}
		if follow != nil && follow.Status == FollowAccepted {
			count += 1
		}
	}
	return count, nil
}

func (repo *redisStorage) GetActorFollowersCount(actorId string) (int, error) {
	follows, err := repo.GetAcceptedFollows(actorId)
	if err != nil {
		return 0, err
	}
	return len(follows), nil
}

func (repo *redisStorage) GetActorFromFollowerUrl(followerUrl string) (*Actor, error) {
	return repo.getActorFromIndex("actor:flwurl:" + urlKey(followerUrl))
}

// ---------------------------------------------------------------------------
// Statuses

func (repo *redisStorage) InsertNote(p *CreateNoteParams) error {

	statusKey := "status:" + urlKey(p.Id)
	n, err := repo.client.Exists(statusKey).Result()
	if err != nil {
		return err
	}
	if n != 0 {
		return nil
	}
	now := nowMillis()
	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	status := Status{
		Id:        p.Id,
		ActorId:   p.ActorId,
		Type:      StatusNote,
		Url:       p.Url,
		Text:      p.Text,
		Summary:   p.Summary,
		Reply:     p.Reply,
		To:        p.To,
		Cc:        p.Cc,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	return repo.storeStatus(&status)
}

func (repo *redisStorage) InsertAnnounce(p *CreateAnnounceParams) error {

	statusKey := "status:" + urlKey(p.Id)
	n, err := repo.client.Exists(statusKey).Result()
	if err != nil {
		return err
	}
	if n != 0 {
		return nil
	}
	now := nowMillis()
	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	status := Status{
		Id:               p.Id,
		ActorId:          p.ActorId,
		Type:             StatusAnnounce,
		OriginalStatusId: p.OriginalStatusId,
		To:               p.To,
		Cc:               p.Cc,
		CreatedAt:        createdAt,
		UpdatedAt:        now,
	}
	return repo.storeStatus(&status)
}

func (repo *redisStorage) storeStatus(status *Status) error {

	// Attachments, tags and like counts live under their own keys
	doc := *status
	doc.Attachments = nil
	doc.Tags = nil
	doc.TotalLikes = 0
	doc.Original = nil

	if err := repo.setJson("status:"+urlKey(status.Id), &doc); err != nil {
		return err
	}
	entry := redis.Z{Score: float64(status.CreatedAt), Member: status.Id}
	actorHash := urlKey(status.ActorId)
	if err := repo.client.ZAdd("statuses:actor:"+actorHash, entry).Err(); err != nil {
		return err
	}
	if status.Reply == "" {
		if err := repo.client.ZAdd("statuses:actor_top:"+actorHash, entry).Err(); err != nil {
			return err
		}
	} else {
		if err := repo.client.ZAdd("replies:"+urlKey(status.Reply), entry).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (repo *redisStorage) GetStatusRow(statusId string) (*Status, error) {

	var res Status
	found, err := repo.getJson("status:"+urlKey(statusId), &res)
	if err != nil || !found {
		return nil, err
	}
	if res.Attachments, err = repo.GetAttachments(statusId); err != nil {
		return nil, err
	}
	if res.Tags, err = repo.GetTags(statusId); err != nil {
		return nil, err
	}
	if res.TotalLikes, err = repo.GetLikeCount(statusId); err != nil {
		return nil, err
	}
	return &res, nil
}

func (repo *redisStorage) GetStatusReplyIds(statusId string) ([]string, error) {
	return repo.client.ZRevRange("replies:"+urlKey(statusId), 0, -1).Result()
}

func (repo *redisStorage) GetActorStatusIds(actorId string) ([]string, error) {
	return repo.client.ZRevRange("statuses:actor_top:"+urlKey(actorId), 0, -1).Result()
}

func (repo *redisStorage) GetActorStatusesCount(actorId string) (int, error) {
	n, err := repo.client.ZCard("statuses:actor:" + urlKey(actorId)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (repo *redisStorage) DeleteStatusRows(statusId string) error {

	var status Status
	found, err := repo.getJson("status:"+urlKey(statusId), &status)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	statusHash := urlKey(statusId)
	actorHash := urlKey(status.ActorId)
	if err = repo.client.ZRem("statuses:actor:"+actorHash, statusId).Err(); err != nil {
		return err
	}
	if status.Reply == "" {
		err = repo.client.ZRem("statuses:actor_top:"+actorHash, statusId).Err()
	} else {
		err = repo.client.ZRem("replies:"+urlKey(status.Reply), statusId).Err()
	}
	if err != nil {
		return err
	}
	// Remove the status from every timeline it was fanned out to
	tlKeys, err := repo.client.SMembers("tl_refs:" + statusHash).Result()
	if err != nil {
		return err
	}
	member := statusId + "|" + status.ActorId
	for _, tlKey := range tlKeys {
		if err = repo.client.ZRem(tlKey, member).Err(); err != nil {
			return err
		}
	}
	keys := []string{
		"status:" + statusHash,
		"attachments:" + statusHash,
		"tags:" + statusHash,
		"likes:" + statusHash,
		"tl_refs:" + statusHash,
	}
	return repo.client.Del(keys...).Err()
}

// ---------------------------------------------------------------------------
// Attachments, tags, likes

func (repo *redisStorage) CreateAttachment(p *CreateAttachmentParams) (*Attachment, error) {

	now := nowMillis()
	res := Attachment{
		Id:        uuid.NewString(),
		StatusId:  p.StatusId,
		Type:      "Document",
		MediaType: p.MediaType,
		Url:       p.Url,
		Name:      p.Name,
		Width:     p.Width,
		Height:    p.Height,
		CreatedAt: now,
		UpdatedAt: now,
	}
	bytes, err := json.Marshal(&res)
	if err != nil {
		return nil, err
	}
	if err = repo.client.RPush("attachments:"+urlKey(p.StatusId), string(bytes)).Err(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (repo *redisStorage) GetAttachments(statusId string) ([]*Attachment, error) {
	items, err := repo.client.LRange("attachments:"+urlKey(statusId), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	res := make([]*Attachment, 0, len(items))
	for _, item := range items {
		a := Attachment{}
		if err = json.Unmarshal([]byte(item), &a); err != nil {
			return nil, err
		}
		res = append(res, &a)
	}
	return res, nil
}

func (repo *redisStorage) CreateTag(p *CreateTagParams) (*Tag, error) {

	now := nowMillis()
	res := Tag{
		Id:        uuid.NewString(),
		StatusId:  p.StatusId,
		Type:      p.Type,
		Name:      p.Name,
		Value:     p.Value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	bytes, err := json.Marshal(&res)
	if err != nil {
		return nil, err
	}
	if err = repo.client.RPush("tags:"+urlKey(p.StatusId), string(bytes)).Err(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (repo *redisStorage) GetTags(statusId string) ([]*Tag, error) {
	items, err := repo.client.LRange("tags:"+urlKey(statusId), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	res := make([]*Tag, 0, len(items))
	for _, item := range items {
		t := Tag{}
		if err = json.Unmarshal([]byte(item), &t); err != nil {
			return nil, err
		}
		res = append(res, &t)
	}
	return res, nil
}

func (repo *redisStorage) CreateLike(actorId, statusId string) error {
	return repo.client.SAdd("likes:"+urlKey(statusId), actorId).Err()
}

func (repo *redisStorage) DeleteLike(actorId, statusId string) error {
	return repo.client.SRem("likes:"+urlKey(statusId), actorId).Err()
}

func (repo *redisStorage) GetLikeCount(statusId string) (int, error) {
	n, err := repo.client.SCard("likes:" + urlKey(statusId)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (repo *redisStorage) IsActorLikedStatus(actorId, statusId string) (bool, error) {
	return repo.client.SIsMember("likes:"+urlKey(statusId), actorId).Result()
}

// ---------------------------------------------------------------------------
// Timelines

func timelineKey(timeline Timeline, ownerActorId string) string {
	owner := "-"
	if ownerActorId != "" {
		owner = urlKey(ownerActorId)
	}
	return "tl:" + string(timeline) + ":" + owner
}

func (repo *redisStorage) CreateTimelineEntry(timeline Timeline, ownerActorId string, status *Status) error {

	tlKey := timelineKey(timeline, ownerActorId)
	member := status.Id + "|" + status.ActorId

	// ZAddNX keeps the original insertion position on repeats
	seq, err := repo.client.Incr("tl_seq").Result()
	if err != nil {
		return err
	}
	if err = repo.client.ZAddNX(tlKey, redis.Z{Score: float64(seq), Member: member}).Err(); err != nil {
		return err
	}
	return repo.client.SAdd("tl_refs:"+urlKey(status.Id), tlKey).Err()
}

func (repo *redisStorage) GetTimelineEntries(
	timeline Timeline, ownerActorId string, startAfterStatusId string, limit int,
) ([]*TimelineEntry, error) {

	tlKey := timelineKey(timeline, ownerActorId)
	max := "+inf"
	if startAfterStatusId != "" {
		entries, err := repo.client.ZRangeByScoreWithScores(tlKey, redis.ZRangeBy{
			Min: "-inf", Max: "+inf",
		}).Result()
		if err != nil {
			return nil, err
		}
		found := false
		for _, z := range entries {
			member, _ := z.Member.(string)
			if strings.HasPrefix(member, startAfterStatusId+"|") {
				max = "(" + strconv.FormatFloat(z.Score, 'f', -1, 64)
				found = true
				break
			}
		}
		if !found {
			return []*TimelineEntry{}, nil
		}
	}
	entries, err := repo.client.ZRevRangeByScoreWithScores(tlKey, redis.ZRangeBy{
		Min: "-inf", Max: max, Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	res := make([]*TimelineEntry, 0, len(entries))
	for _, z := range entries {
		member, _ := z.Member.(string)
		statusId, statusActorId, _ := strings.Cut(member, "|")
		res = append(res, &TimelineEntry{
			Id:            int64(z.Score),
			Timeline:      timeline,
			ActorId:       ownerActorId,
			StatusId:      statusId,
			StatusActorId: statusActorId,
		})
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Inbound activity idempotency

func (repo *redisStorage) MarkActivityHandled(id string, when int64) (alreadyHandled bool, err error) {
	ok, err := repo.client.SetNX("handled:"+urlKey(id), when, 0).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
