package logic

import (
	"wren/dal"
	"wren/dto"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_actor_directory.go -package mocks wren/logic IActorDirectory

// IActorDirectory resolves actor ids to actor records, caching remote
// actors in storage on first sight.
type IActorDirectory interface {
	GetActor(actorId string) (*dal.Actor, error)
	GetOrFetchActor(actorId string) (*dal.Actor, error)
	RefreshActor(actorId string) (*dal.Actor, error)
}

type actorDirectory struct {
	cfg       *shared.Config
	logger    shared.ILogger
	storage   dal.IStorage
	retriever IRemoteRetriever
}

func NewActorDirectory(
	cfg *shared.Config,
	logger shared.ILogger,
	storage dal.IStorage,
	retriever IRemoteRetriever,
) IActorDirectory {
	return &actorDirectory{cfg, logger, storage, retriever}
}

func (dir *actorDirectory) GetActor(actorId string) (*dal.Actor, error) {
	return dir.storage.GetActorFromId(actorId)
}

func (dir *actorDirectory) GetOrFetchActor(actorId string) (*dal.Actor, error) {

	actor, err := dir.storage.GetActorFromId(actorId)
	if err != nil {
		return nil, err
	}
	if actor != nil {
		return actor, nil
	}
	return dir.fetchAndStore(actorId)
}

// RefreshActor re-fetches a remote actor's document and updates the
// cached record. Local actors are never refreshed from the network.
func (dir *actorDirectory) RefreshActor(actorId string) (*dal.Actor, error) {

	actor, err := dir.storage.GetActorFromId(actorId)
	if err != nil {
		return nil, err
	}
	if actor != nil && actor.IsLocal() {
		return actor, nil
	}
	if actor == nil {
		return dir.fetchAndStore(actorId)
	}
	doc, err := dir.retriever.RetrieveActor(actorId)
	if err != nil {
		return nil, err
	}
	return dir.storage.UpdateActor(&dal.UpdateActorParams{
		ActorId:        actorId,
		Name:           doc.Name,
		Summary:        doc.Summary,
		IconUrl:        iconUrl(doc),
		PublicKey:      doc.PublicKey.PublicKeyPem,
		FollowersUrl:   doc.Followers,
		InboxUrl:       doc.Inbox,
		SharedInboxUrl: doc.Endpoints.SharedInbox,
	})
}

func (dir *actorDirectory) fetchAndStore(actorId string) (*dal.Actor, error) {

	doc, err := dir.retriever.RetrieveActor(actorId)
	if err != nil {
		return nil, err
	}
	domain, err := shared.GetHostName(actorId)
	if err != nil {
		return nil, err
	}
	return dir.storage.CreateActor(&dal.CreateActorParams{
		ActorId:        actorId,
		Username:       doc.PreferredUserName,
		Domain:         domain,
		Name:           doc.Name,
		Summary:        doc.Summary,
		IconUrl:        iconUrl(doc),
		FollowersUrl:   doc.Followers,
		InboxUrl:       doc.Inbox,
		SharedInboxUrl: doc.Endpoints.SharedInbox,
		PublicKey:      doc.PublicKey.PublicKeyPem,
	})
}

func iconUrl(doc *dto.ActorDoc) string {
	if doc.Icon == nil {
		return ""
	}
	return doc.Icon.Url
}
