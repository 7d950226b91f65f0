package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"wren/dal"
	"wren/logic"
	"wren/shared"
)

// Groups together the handlers implementing the federation surface.
type apubHandlerGroup struct {
	cfg        *shared.Config
	logger     shared.ILogger
	metrics    logic.IMetrics
	storage    dal.IStorage
	sigChecker logic.ISigChecker
	accounts   logic.IAccounts
	statuses   logic.IStatusRepo
	inbox      logic.IInbox
	idb        shared.IdBuilder
	reResource *regexp.Regexp
}

func NewApubHandlerGroup(
	cfg *shared.Config,
	logger shared.ILogger,
	metrics logic.IMetrics,
	storage dal.IStorage,
	sigChecker logic.ISigChecker,
	accounts logic.IAccounts,
	statuses logic.IStatusRepo,
	ibox logic.IInbox,
) IHandlerGroup {
	res := apubHandlerGroup{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		storage:    storage,
		sigChecker: sigChecker,
		accounts:   accounts,
		statuses:   statuses,
		inbox:      ibox,
		idb:        shared.IdBuilder{Host: cfg.Host},
	}
	res.reResource = regexp.MustCompile("^acct:([^@]+)@([^@]+)$")
	return &res
}

func (hg *apubHandlerGroup) Prefix() string {
	return ""
}

func (hg *apubHandlerGroup) GroupDefs() []handlerDef {
	return []handlerDef{
		{"GET", "/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) { hg.getWebfinger(w, r) }},
		{"GET", "/users/{user}", func(w http.ResponseWriter, r *http.Request) { hg.getActor(w, r) }},
		{"GET", "/users/{user}/followers", func(w http.ResponseWriter, r *http.Request) { hg.getFollowers(w, r) }},
		{"GET", "/users/{user}/following", func(w http.ResponseWriter, r *http.Request) { hg.getFollowing(w, r) }},
		{"GET", "/users/{user}/statuses/{id}", func(w http.ResponseWriter, r *http.Request) { hg.getStatus(w, r) }},
		{"POST", "/users/{user}/inbox", func(w http.ResponseWriter, r *http.Request) { hg.postInbox(w, r) }},
		{"POST", "/inbox", func(w http.ResponseWriter, r *http.Request) { hg.postInbox(w, r) }},
	}
}

func (hg *apubHandlerGroup) AuthMW() func(next http.Handler) http.Handler {
	return emptyMW
}

func (hg *apubHandlerGroup) getWebfinger(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling webfinger GET: %s", r.URL.Path)
	obs := hg.metrics.StartApubRequestIn("webfinger")
	defer obs.Finish()

	resourceParam := r.URL.Query().Get("resource")
	groups := hg.reResource.FindStringSubmatch(resourceParam)
	if groups == nil {
		hg.logger.Infof("Webfinger: Invalid request; 'resource' param is '%s'", resourceParam)
		writeErrorResponse(w, "Missing or invalid 'resource' param", http.StatusBadRequest)
		return
	}
	username, host := groups[1], groups[2]
	if host != hg.cfg.Host {
		writeErrorResponse(w, notFoundStr, http.StatusNotFound)
		return
	}
	resp, err := hg.accounts.MakeWebfingerResp(username)
	if err != nil {
		hg.logger.Errorf("Webfinger lookup failed for %s: %v", username, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if resp == nil {
		writeErrorResponse(w, notFoundStr, http.StatusNotFound)
		return
	}
	writeJsonResponse(hg.logger, w, resp)
}

func (hg *apubHandlerGroup) getActor(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartApubRequestIn("actor")
	defer obs.Finish()

	username := mux.Vars(r)["user"]
	doc, err := hg.accounts.GetActorDoc(username)
	if err != nil {
		hg.logger.Errorf("Actor lookup failed for %s: %v", username, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if doc == nil {
		writeErrorResponse(w, notFoundStr, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/activity+json; charset=utf-8")
	respJson, _ := json.Marshal(doc)
	fmt.Fprintln(w, string(respJson))
}

func (hg *apubHandlerGroup) getFollowers(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartApubRequestIn("followers")
	defer obs.Finish()

	username := mux.Vars(r)["user"]
	resp, err := hg.accounts.GetFollowersSummary(username)
	hg.writeCollectionSummary(w, username, resp, err)
}

func (hg *apubHandlerGroup) getFollowing(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartApubRequestIn("following")
	defer obs.Finish()

	username := mux.Vars(r)["user"]
	resp, err := hg.accounts.GetFollowingSummary(username)
	hg.writeCollectionSummary(w, username, resp, err)
}

func (hg *apubHandlerGroup) writeCollectionSummary(w http.ResponseWriter, username string, resp any, err error) {
	if err != nil {
		hg.logger.Errorf("Collection lookup failed for %s: %v", username, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if resp == nil {
		writeErrorResponse(w, notFoundStr, http.StatusNotFound)
		return
	}
	writeJsonResponse(hg.logger, w, resp)
}

func (hg *apubHandlerGroup) getStatus(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartApubRequestIn("status")
	defer obs.Finish()

	vars := mux.Vars(r)
	statusId := hg.idb.Status(vars["user"], vars["id"])
	status, err := hg.statuses.GetStatus(statusId)
	if err != nil {
		hg.logger.Errorf("Status lookup failed for %s: %v", statusId, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if status == nil {
		writeErrorResponse(w, notFoundStr, http.StatusNotFound)
		return
	}
	note := hg.statuses.MakeNote(status)
	note.Context = "https://www.w3.org/ns/activitystreams"
	w.Header().Set("Content-Type", "application/activity+json; charset=utf-8")
	respJson, _ := json.Marshal(note)
	fmt.Fprintln(w, string(respJson))
}

type inboxResp struct {
	Target string `json:"target,omitempty"`
}

func (hg *apubHandlerGroup) postInbox(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling inbox POST: %s", r.URL.Path)
	obs := hg.metrics.StartApubRequestIn("inbox")
	defer obs.Finish()

	if hg.storage == nil {
		writeErrorResponse(w, noStorageStr, http.StatusBadRequest)
		return
	}

	username, hasUser := mux.Vars(r)["user"]
	if hasUser {
		actor, err := hg.storage.GetActorFromUsername(username, hg.cfg.Host)
		if err != nil {
			writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
			return
		}
		if actor == nil {
			writeErrorResponse(w, notFoundStr, http.StatusNotFound)
			return
		}
	}

	body := readBody(hg.logger, w, r)
	if body == nil {
		return
	}

	sender, reqProblem, err := hg.sigChecker.Check(r)
	if err != nil {
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	if reqProblem != "" {
		// A Delete whose sender is already gone cannot be verified;
		// accept and drop it instead of bouncing repeats forever.
		var peek struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(body, &peek) == nil && peek.Type == "Delete" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		hg.logger.Infof("Rejecting unauthenticated inbox POST: %s", reqProblem)
		writeErrorResponse(w, reqProblem, http.StatusUnauthorized)
		return
	}

	outcome, err := hg.inbox.Process(sender, body)
	if err != nil {
		hg.logger.Errorf("Inbox dispatch failed: %v", err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}

	switch outcome.Code {
	case logic.OutcomeNotFound:
		writeErrorResponse(w, notFoundStr, http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusAccepted)
		if outcome.Target != "" {
			respJson, _ := json.Marshal(inboxResp{Target: outcome.Target})
			fmt.Fprintln(w, string(respJson))
		}
	}
}
