package logic

import (
	"fmt"
	"time"

	"wren/dal"
	"wren/dto"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_accounts.go -package mocks wren/logic IAccounts

// IAccounts manages the accounts hosted on this instance. Creating a
// duplicate account is a usage error and fails loudly; everything else
// here is read-side plumbing for the public actor endpoints.
type IAccounts interface {
	CreateAccount(email, username string) (*dal.Actor, error)
	GetActorDoc(username string) (*dto.ActorDoc, error)
	GetFollowersSummary(username string) (*dto.OrderedListSummary, error)
	GetFollowingSummary(username string) (*dto.OrderedListSummary, error)
	MakeWebfingerResp(username string) (*dto.WebfingerResp, error)
}

type accounts struct {
	cfg     *shared.Config
	logger  shared.ILogger
	storage dal.IStorage
	codec   ISignatureCodec
	idb     shared.IdBuilder
}

func NewAccounts(
	cfg *shared.Config,
	logger shared.ILogger,
	storage dal.IStorage,
	codec ISignatureCodec,
) IAccounts {
	return &accounts{cfg, logger, storage, codec, shared.IdBuilder{Host: cfg.Host}}
}

func (acc *accounts) CreateAccount(email, username string) (*dal.Actor, error) {

	exists, err := acc.storage.IsAccountExists(email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("account already exists: %s", email)
	}
	exists, err = acc.storage.IsUsernameExists(username, acc.cfg.Host)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("username already taken: %s", username)
	}

	pubKey, privKey, err := acc.codec.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	_, err = acc.storage.CreateAccount(&dal.CreateAccountParams{
		Email:      email,
		Username:   username,
		Domain:     acc.cfg.Host,
		PublicKey:  pubKey,
		PrivateKey: privKey,
	})
	if err != nil {
		return nil, err
	}
	acc.logger.Infof("Created account %s for %s", username, email)
	return acc.storage.GetActorFromUsername(username, acc.cfg.Host)
}

func (acc *accounts) getLocalActor(username string) (*dal.Actor, error) {
	actor, err := acc.storage.GetActorFromUsername(username, acc.cfg.Host)
	if err != nil {
		return nil, err
	}
	if actor == nil || !actor.IsLocal() {
		return nil, nil
	}
	return actor, nil
}

func (acc *accounts) GetActorDoc(username string) (*dto.ActorDoc, error) {

	actor, err := acc.getLocalActor(username)
	if err != nil || actor == nil {
		return nil, err
	}
	actorId := actor.Id
	res := dto.ActorDoc{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		Id:                actorId,
		Type:              "Person",
		PreferredUserName: actor.Username,
		Name:              actor.Name,
		Summary:           actor.Summary,
		Published:         time.UnixMilli(actor.CreatedAt).UTC().Format(time.RFC3339),
		Inbox:             acc.idb.ActorInbox(username),
		Outbox:            acc.idb.ActorOutbox(username),
		Followers:         acc.idb.ActorFollowers(username),
		Following:         acc.idb.ActorFollowing(username),
		Endpoints:         dto.ActorEndpoints{SharedInbox: acc.idb.SharedInbox()},
		PublicKey: dto.PublicKey{
			Id:           acc.idb.ActorKeyId(actorId),
			Owner:        actorId,
			PublicKeyPem: actor.PublicKey,
		},
	}
	if actor.IconUrl != "" {
		res.Icon = &dto.Image{Type: "Image", Url: actor.IconUrl}
	}
	return &res, nil
}

func (acc *accounts) GetFollowersSummary(username string) (*dto.OrderedListSummary, error) {

	actor, err := acc.getLocalActor(username)
	if err != nil || actor == nil {
		return nil, err
	}
	count, err := acc.storage.GetActorFollowersCount(actor.Id)
	if err != nil {
		return nil, err
	}
	return &dto.OrderedListSummary{
		Context:    "https://www.w3.org/ns/activitystreams",
		Id:         acc.idb.ActorFollowers(username),
		Type:       "OrderedCollection",
		TotalItems: uint(count),
	}, nil
}

func (acc *accounts) GetFollowingSummary(username string) (*dto.OrderedListSummary, error) {

	actor, err := acc.getLocalActor(username)
	if err != nil || actor == nil {
		return nil, err
	}
	count, err := acc.storage.GetActorFollowingCount(actor.Id)
	if err != nil {
		return nil, err
	}
	return &dto.OrderedListSummary{
		Context:    "https://www.w3.org/ns/activitystreams",
		Id:         acc.idb.ActorFollowing(username),
		Type:       "OrderedCollection",
		TotalItems: uint(count),
	}, nil
}

func (acc *accounts) MakeWebfingerResp(username string) (*dto.WebfingerResp, error) {

	actor, err := acc.getLocalActor(username)
	if err != nil || actor == nil {
		return nil, err
	}
	actorUrl := acc.idb.ActorUrl(username)
	return &dto.WebfingerResp{
		Subject: shared.MakeFullMoniker(acc.cfg.Host, username),
		Aliases: []string{actorUrl},
		Links: []dto.WebfingerLink{
			{Rel: "self", Type: "application/activity+json", Href: actorUrl},
		},
	}, nil
}
