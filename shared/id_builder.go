package shared

import (
	"fmt"
	"net/url"
	"strings"
)

// ActivityPublic is the well-known public addressing collection.
const ActivityPublic = "https://www.w3.org/ns/activitystreams#Public"

func GetHostName(userUrl string) (string, error) {
	var parsedUrl *url.URL
	var urlError error
	parsedUrl, urlError = url.Parse(userUrl)
	if urlError != nil {
		return "", fmt.Errorf("failed to parse actor URL '%s': %v", userUrl, urlError)
	}
	return parsedUrl.Hostname(), nil
}

// IsFollowersUrl recognizes followers-collection ids in addressing lists.
func IsFollowersUrl(id string) bool {
	return strings.HasSuffix(id, "/followers")
}

func MakeFullMoniker(hostName, handle string) string {
	return "@" + handle + "@" + hostName
}

type IdBuilder struct {
	Host string
}

func (idb *IdBuilder) SiteUrl() string {
	return fmt.Sprintf("https://%s", idb.Host)
}

func (idb *IdBuilder) SharedInbox() string {
	return fmt.Sprintf("https://%s/inbox", idb.Host)
}

func (idb *IdBuilder) ActorUrl(username string) string {
	return fmt.Sprintf("https://%s/users/%s", idb.Host, username)
}

func (idb *IdBuilder) ActorKeyId(actorId string) string {
	return actorId + "#main-key"
}

func (idb *IdBuilder) ActorInbox(username string) string {
	return fmt.Sprintf("https://%s/users/%s/inbox", idb.Host, username)
}

func (idb *IdBuilder) ActorFollowers(username string) string {
	return fmt.Sprintf("https://%s/users/%s/followers", idb.Host, username)
}

func (idb *IdBuilder) ActorFollowing(username string) string {
	return fmt.Sprintf("https://%s/users/%s/following", idb.Host, username)
}

func (idb *IdBuilder) ActorOutbox(username string) string {
	return fmt.Sprintf("https://%s/users/%s/outbox", idb.Host, username)
}

func (idb *IdBuilder) Status(username, id string) string {
	return fmt.Sprintf("https://%s/users/%s/statuses/%s", idb.Host, username, id)
}

func (idb *IdBuilder) StatusActivity(username, id string) string {
	return fmt.Sprintf("https://%s/users/%s/statuses/%s/activity", idb.Host, username, id)
}

func (idb *IdBuilder) FollowActivity(id string) string {
	return fmt.Sprintf("https://%s/activities/follow/%s", idb.Host, id)
}

func (idb *IdBuilder) AcceptActivity(id string) string {
	return fmt.Sprintf("https://%s/activities/accept/%s", idb.Host, id)
}

func (idb *IdBuilder) UndoActivity(id string) string {
	return fmt.Sprintf("https://%s/activities/undo/%s", idb.Host, id)
}
