package dal

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_storage.go -package mocks wren/dal IStorage

// IStorage is the persistence contract of the core. Two adapters implement
// it: the relational one over sqlite and the document one over redis. The
// relational adapter wraps multi-row writes in transactions; the document
// adapter performs them as a best-effort sequence of independent writes.
type IStorage interface {
	Init() error

	// Accounts and actors
	IsAccountExists(email string) (bool, error)
	CreateAccount(p *CreateAccountParams) (accountId string, err error)
	GetAccountFromId(id string) (*Account, error)
	IsUsernameExists(username, domain string) (bool, error)
	CreateActor(p *CreateActorParams) (*Actor, error)
	GetActorFromId(id string) (*Actor, error)
	GetActorFromUsername(username, domain string) (*Actor, error)
	GetActorFromEmail(email string) (*Actor, error)
	UpdateActor(p *UpdateActorParams) (*Actor, error)
	DeleteActor(actorId string) error
	GetLocalDomains() ([]string, error)

	// Follows
	InsertFollow(follow *Follow) error
	GetFollowFromId(followId string) (*Follow, error)
	GetAcceptedOrRequestedFollow(actorId, targetActorId string) (*Follow, error)
	GetAcceptedFollows(targetActorId string) ([]*Follow, error)
	UpdateFollowStatus(followId string, status FollowStatus) error
	IsCurrentActorFollowing(currentActorId, followingActorId string) (bool, error)
	GetActorFollowingCount(actorId string) (int, error)
	GetActorFollowersCount(actorId string) (int, error)
	GetActorFromFollowerUrl(followerUrl string) (*Actor, error)

	// Statuses
	InsertNote(p *CreateNoteParams) error
	InsertAnnounce(p *CreateAnnounceParams) error
	GetStatusRow(statusId string) (*Status, error)
	GetStatusReplyIds(statusId string) ([]string, error)
	GetActorStatusIds(actorId string) ([]string, error)
	GetActorStatusesCount(actorId string) (int, error)
	DeleteStatusRows(statusId string) error

	// Attachments, tags, likes
	CreateAttachment(p *CreateAttachmentParams) (*Attachment, error)
	GetAttachments(statusId string) ([]*Attachment, error)
	CreateTag(p *CreateTagParams) (*Tag, error)
	GetTags(statusId string) ([]*Tag, error)
	CreateLike(actorId, statusId string) error
	DeleteLike(actorId, statusId string) error
	GetLikeCount(statusId string) (int, error)
	IsActorLikedStatus(actorId, statusId string) (bool, error)

	// Timelines
	CreateTimelineEntry(timeline Timeline, ownerActorId string, status *Status) error
	GetTimelineEntries(timeline Timeline, ownerActorId string, startAfterStatusId string, limit int) ([]*TimelineEntry, error)

	// Inbound activity idempotency
	MarkActivityHandled(id string, when int64) (alreadyHandled bool, err error)
}

type CreateAccountParams struct {
	Email      string
	Username   string
	Domain     string
	PublicKey  string
	PrivateKey string
}

type CreateActorParams struct {
	ActorId        string
	Username       string
	Domain         string
	Name           string
	Summary        string
	IconUrl        string
	FollowersUrl   string
	InboxUrl       string
	SharedInboxUrl string
	PublicKey      string
	PrivateKey     string
	CreatedAt      int64
}

// Empty fields are left untouched.
type UpdateActorParams struct {
	ActorId        string
	Name           string
	Summary        string
	IconUrl        string
	PublicKey      string
	FollowersUrl   string
	InboxUrl       string
	SharedInboxUrl string
}

type CreateNoteParams struct {
	Id        string
	Url       string
	ActorId   string
	Text      string
	Summary   string
	To        []string
	Cc        []string
	Reply     string
	CreatedAt int64
}

type CreateAnnounceParams struct {
	Id               string
	ActorId          string
	To               []string
	Cc               []string
	OriginalStatusId string
	CreatedAt        int64
}

type CreateAttachmentParams struct {
	StatusId  string
	MediaType string
	Url       string
	Name      string
	Width     int
	Height    int
}

type CreateTagParams struct {
	StatusId string
	Type     string
	Name     string
	Value    string
}
