package logic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wren/dto"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_remote_retriever.go -package mocks wren/logic IRemoteRetriever

// IRemoteRetriever fetches documents from other servers. A non-200
// response is an error; callers decide whether that aborts the operation.
type IRemoteRetriever interface {
	RetrieveActor(actorUrl string) (*dto.ActorDoc, error)
	RetrieveNote(noteUrl string) (*dto.Note, error)
}

const retrieveTimeoutSec = 10

type remoteRetriever struct {
	cfg       *shared.Config
	logger    shared.ILogger
	userAgent shared.IUserAgent
	metrics   IMetrics
}

func NewRemoteRetriever(
	cfg *shared.Config,
	logger shared.ILogger,
	userAgent shared.IUserAgent,
	metrics IMetrics,
) IRemoteRetriever {
	return &remoteRetriever{cfg, logger, userAgent, metrics}
}

func (rr *remoteRetriever) retrieve(docUrl string, obj any) error {

	obs := rr.metrics.StartApubRequestOut("get")
	defer obs.Finish()

	client := &http.Client{Timeout: time.Second * retrieveTimeoutSec}
	req, err := http.NewRequest("GET", docUrl, nil)
	if err != nil {
		return err
	}
	rr.userAgent.AddUserAgent(req)
	req.Header.Set("Accept", "application/activity+json, application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to retrieve %s; got status %v", docUrl, resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(bodyBytes, obj)
}

func (rr *remoteRetriever) RetrieveActor(actorUrl string) (*dto.ActorDoc, error) {
	var obj dto.ActorDoc
	if err := rr.retrieve(actorUrl, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (rr *remoteRetriever) RetrieveNote(noteUrl string) (*dto.Note, error) {
	var obj dto.Note
	if err := rr.retrieve(noteUrl, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}
