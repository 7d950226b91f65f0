package dal

type FollowStatus string

const (
	FollowRequested FollowStatus = "Requested"
	FollowAccepted  FollowStatus = "Accepted"
	FollowRejected  FollowStatus = "Rejected"
	FollowUndo      FollowStatus = "Undo"
)

type Timeline string

const (
	TimelineMain        Timeline = "main"
	TimelineNoAnnounce  Timeline = "noannounce"
	TimelineLocalPublic Timeline = "local-public"
)

type StatusType string

const (
	StatusNote     StatusType = "Note"
	StatusAnnounce StatusType = "Announce"
)

type Account struct {
	Id        string
	Email     string
	CreatedAt int64
	UpdatedAt int64
}

type Actor struct {
	Id             string // https://wren.example/users/alice
	AccountId      string // empty for remote actors
	Username       string // alice
	Domain         string // wren.example
	Name           string
	Summary        string
	IconUrl        string
	FollowersUrl   string
	InboxUrl       string
	SharedInboxUrl string
	PublicKey      string
	PrivateKey     string // empty for remote actors
	CreatedAt      int64
	UpdatedAt      int64
}

// IsLocal reports whether this instance hosts the actor. Only local
// actors carry a private key.
func (a *Actor) IsLocal() bool {
	return a.PrivateKey != ""
}

type Follow struct {
	Id              string
	ActorId         string // the follower
	ActorHost       string
	TargetActorId   string // the followee
	TargetActorHost string
	Status          FollowStatus
	Inbox           string
	SharedInbox     string
	CreatedAt       int64
	UpdatedAt       int64
}

// Status is a Note or an Announce. For announces, OriginalStatusId points
// at the boosted note and Original carries the resolved note when the
// status was read through the status repository.
type Status struct {
	Id               string
	ActorId          string
	Type             StatusType
	Url              string
	Text             string
	Summary          string
	Reply            string // id of the status this one replies to, empty if none
	OriginalStatusId string
	Original         *Status
	To               []string
	Cc               []string
	Attachments      []*Attachment
	Tags             []*Tag
	TotalLikes       int
	CreatedAt        int64
	UpdatedAt        int64
}

func (s *Status) IsPublic() bool {
	for _, id := range s.To {
		if id == "https://www.w3.org/ns/activitystreams#Public" {
			return true
		}
	}
	return false
}

type Attachment struct {
	Id        string
	StatusId  string
	Type      string
	MediaType string
	Url       string
	Name      string
	Width     int
	Height    int
	CreatedAt int64
	UpdatedAt int64
}

type Tag struct {
	Id        string
	StatusId  string
	Type      string
	Name      string
	Value     string
	CreatedAt int64
	UpdatedAt int64
}

// TimelineEntry rows are append-only; Id is the opaque pagination cursor,
// assigned by the backend in insertion order.
type TimelineEntry struct {
	Id            int64
	Timeline      Timeline
	ActorId       string // timeline owner; empty for the global local-public feed
	StatusId      string
	StatusActorId string
	CreatedAt     int64
}
