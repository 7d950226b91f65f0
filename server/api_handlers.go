package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"wren/dal"
	"wren/logic"
	"wren/shared"
)

// apiHandlerGroup is the instance's private administration surface,
// authenticated with API keys.
type apiHandlerGroup struct {
	cfg       *shared.Config
	logger    shared.ILogger
	metrics   logic.IMetrics
	accounts  logic.IAccounts
	outbox    logic.IOutbox
	timelines logic.ITimelines
	statuses  logic.IStatusRepo
}

func NewApiHandlerGroup(
	cfg *shared.Config,
	logger shared.ILogger,
	metrics logic.IMetrics,
	accounts logic.IAccounts,
	outbox logic.IOutbox,
	timelines logic.ITimelines,
	statuses logic.IStatusRepo,
) IHandlerGroup {
	res := apiHandlerGroup{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		accounts:  accounts,
		outbox:    outbox,
		timelines: timelines,
		statuses:  statuses,
	}
	return &res
}

func (hg *apiHandlerGroup) Prefix() string {
	return "/api"
}

func (hg *apiHandlerGroup) GroupDefs() []handlerDef {
	return []handlerDef{
		{"POST", "/accounts", func(w http.ResponseWriter, r *http.Request) { hg.postAccounts(w, r) }},
		{"POST", "/statuses", func(w http.ResponseWriter, r *http.Request) { hg.postStatuses(w, r) }},
		{"DELETE", "/statuses", func(w http.ResponseWriter, r *http.Request) { hg.deleteStatuses(w, r) }},
		{"POST", "/follows", func(w http.ResponseWriter, r *http.Request) { hg.postFollows(w, r) }},
		{"DELETE", "/follows", func(w http.ResponseWriter, r *http.Request) { hg.deleteFollows(w, r) }},
		{"GET", "/timelines/{timeline}", func(w http.ResponseWriter, r *http.Request) { hg.getTimeline(w, r) }},
	}
}

func (hg *apiHandlerGroup) AuthMW() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return hg.authMW(next)
	}
}

func (hg *apiHandlerGroup) authMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var apiKey = r.Header.Get(apiKeyHeader)
		found := false
		for _, key := range hg.cfg.Secrets.ApiKeys {
			if apiKey == key {
				found = true
			}
		}
		if !found {
			keyPart := apiKey
			if len(apiKey) > 4 {
				keyPart = apiKey[:4] + "..."
			}
			hg.logger.Warnf("API request with missing or invalid key '%s': %s", keyPart, r.URL.Path)
			writeErrorResponse(w, badApiKeyStr, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type accountReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type accountResp struct {
	ActorId  string `json:"actorId"`
	Username string `json:"username"`
}

func (hg *apiHandlerGroup) postAccounts(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartWebRequestIn("post-account")
	defer obs.Finish()

	var req accountReq
	body := readBody(hg.logger, w, r)
	if body == nil {
		return
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Email == "" || req.Username == "" {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}
	actor, err := hg.accounts.CreateAccount(req.Email, req.Username)
	if err != nil {
		hg.logger.Warnf("Failed to create account %s: %v", req.Username, err)
		writeErrorResponse(w, err.Error(), http.StatusConflict)
		return
	}
	writeJsonResponse(hg.logger, w, accountResp{ActorId: actor.Id, Username: actor.Username})
}

type statusReq struct {
	Username string `json:"username"`
	Text     string `json:"text"`
	Summary  string `json:"summary"`
	StatusId string `json:"statusId"`
}

type statusResp struct {
	Id        string   `json:"id"`
	ActorId   string   `json:"actorId"`
	Type      string   `json:"type"`
	Url       string   `json:"url,omitempty"`
	Text      string   `json:"text,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Reply     string   `json:"reply,omitempty"`
	To        []string `json:"to,omitempty"`
	Cc        []string `json:"cc,omitempty"`
	Likes     int      `json:"likes"`
	CreatedAt int64    `json:"createdAt"`
}

func makeStatusResp(status *dal.Status) statusResp {
	return statusResp{
		Id:        status.Id,
		ActorId:   status.ActorId,
		Type:      string(status.Type),
		Url:       status.Url,
		Text:      status.Text,
		Summary:   status.Summary,
		Reply:     status.Reply,
		To:        status.To,
		Cc:        status.Cc,
		Likes:     status.TotalLikes,
		CreatedAt: status.CreatedAt,
	}
}

func (hg *apiHandlerGroup) postStatuses(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartWebRequestIn("post-status")
	defer obs.Finish()

	var req statusReq
	body := readBody(hg.logger, w, r)
	if body == nil {
		return
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Username == "" || req.Text == "" {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}
	status, err := hg.outbox.PostNote(req.Username, req.Text, req.Summary)
	if err != nil {
		hg.logger.Warnf("Failed to post note for %s: %v", req.Username, err)
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJsonResponse(hg.logger, w, makeStatusResp(status))
}

func (hg *apiHandlerGroup) deleteStatuses(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartWebRequestIn("delete-status")
	defer obs.Finish()

	var req statusReq
	body := readBody(hg.logger, w, r)
	if body == nil {
		return
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Username == "" || req.StatusId == "" {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}
	found, err := hg.outbox.DeleteNote(req.Username, req.StatusId)
	if err != nil {
		hg.logger.Warnf("Failed to delete status %s: %v", req.StatusId, err)
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !found {
		writeErrorResponse(w, notFoundStr, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type followReq struct {
	Username string `json:"username"`
	Target   string `json:"target"`
}

func (hg *apiHandlerGroup) postFollows(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartWebRequestIn("post-follow")
	defer obs.Finish()

	req, ok := hg.readFollowReq(w, r)
	if !ok {
		return
	}
	if err := hg.outbox.FollowActor(req.Username, req.Target); err != nil {
		hg.logger.Warnf("Failed to follow %s as %s: %v", req.Target, req.Username, err)
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (hg *apiHandlerGroup) deleteFollows(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartWebRequestIn("delete-follow")
	defer obs.Finish()

	req, ok := hg.readFollowReq(w, r)
	if !ok {
		return
	}
	if err := hg.outbox.UnfollowActor(req.Username, req.Target); err != nil {
		hg.logger.Warnf("Failed to unfollow %s as %s: %v", req.Target, req.Username, err)
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (hg *apiHandlerGroup) readFollowReq(w http.ResponseWriter, r *http.Request) (*followReq, bool) {
	var req followReq
	body := readBody(hg.logger, w, r)
	if body == nil {
		return nil, false
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Username == "" || req.Target == "" {
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

const defaultTimelinePageSize = 20

func (hg *apiHandlerGroup) getTimeline(w http.ResponseWriter, r *http.Request) {

	obs := hg.metrics.StartWebRequestIn("get-timeline")
	defer obs.Finish()

	var timeline dal.Timeline
	switch mux.Vars(r)["timeline"] {
	case string(dal.TimelineMain):
		timeline = dal.TimelineMain
	case string(dal.TimelineNoAnnounce):
		timeline = dal.TimelineNoAnnounce
	case string(dal.TimelineLocalPublic):
		timeline = dal.TimelineLocalPublic
	default:
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}

	ownerActorId := r.URL.Query().Get("actor")
	if timeline != dal.TimelineLocalPublic && ownerActorId == "" {
		writeErrorResponse(w, "Missing 'actor' param", http.StatusBadRequest)
		return
	}
	if timeline == dal.TimelineLocalPublic {
		// The local-public feed is global
		ownerActorId = ""
	}
	startAfter := r.URL.Query().Get("after")
	limit := defaultTimelinePageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	items, err := hg.timelines.GetTimeline(timeline, ownerActorId, startAfter, limit)
	if err != nil {
		hg.logger.Errorf("Failed to read timeline %s: %v", timeline, err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}
	resp := make([]statusResp, 0, len(items))
	for _, status := range items {
		resp = append(resp, makeStatusResp(status))
	}
	writeJsonResponse(hg.logger, w, resp)
}
