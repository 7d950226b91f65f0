package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"wren/dal"
	"wren/logic"
	"wren/server"
	"wren/shared"
	"wren/test/mocks"
)

const testApiKey = "test-api-key-1"

type apiFixture struct {
	storage dal.IStorage
	router  http.Handler
}

func newApiFixture(t *testing.T, name string) *apiFixture {

	ctrl := gomock.NewController(t)
	cfg := &shared.Config{
		Host: testHost,
		Secrets: shared.Secrets{
			SecretPhrase: "correct-horse-battery-staple",
			ApiKeys:      []string{testApiKey, "test-api-key-2"},
		},
		Storage: shared.StorageConfig{
			Backend: shared.StorageBackendSqlite,
			DbFile:  fmt.Sprintf("file:api-%s?mode=memory&cache=shared", name),
		},
	}

	logger := mocks.NewMockILogger(ctrl)
	logger.EXPECT().Debug(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Debugf(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Info(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Infof(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Warn(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Warnf(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Error(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Errorf(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Printf(gomock.Any(), gomock.Any()).AnyTimes()

	observer := mocks.NewMockIRequestObserver(ctrl)
	observer.EXPECT().Finish().AnyTimes()
	metrics := mocks.NewMockIMetrics(ctrl)
	metrics.EXPECT().StartWebRequestIn(gomock.Any()).Return(observer).AnyTimes()
	metrics.EXPECT().StartApubRequestIn(gomock.Any()).Return(observer).AnyTimes()
	metrics.EXPECT().StartApubRequestOut(gomock.Any()).Return(observer).AnyTimes()
	metrics.EXPECT().ActivityIn(gomock.Any()).AnyTimes()
	metrics.EXPECT().ActivityIgnored().AnyTimes()
	metrics.EXPECT().StatusSaved().AnyTimes()
	metrics.EXPECT().StatusDeleted().AnyTimes()
	metrics.EXPECT().DeliveryFailed().AnyTimes()
	metrics.EXPECT().ServiceStarted().AnyTimes()
	metrics.EXPECT().TotalFollowers(gomock.Any()).AnyTimes()

	broadcaster := mocks.NewMockIBroadcaster(ctrl)
	broadcaster.EXPECT().SendToInbox(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	broadcaster.EXPECT().Broadcast(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	storage := dal.NewSqliteStorage(cfg, logger)
	require.NoError(t, storage.Init())

	codec := logic.NewSignatureCodec(cfg, logger)
	actors := logic.NewActorDirectory(cfg, logger, storage, mocks.NewMockIRemoteRetriever(ctrl))
	ledger := logic.NewFollowLedger(cfg, logger, storage, actors)
	statuses := logic.NewStatusRepo(cfg, logger, storage, metrics)
	timelines := logic.NewTimelines(cfg, logger, storage, ledger)
	accounts := logic.NewAccounts(cfg, logger, storage, codec)
	outbox := logic.NewOutbox(cfg, logger, storage, statuses, timelines, ledger,
		actors, broadcaster)

	group := server.NewApiHandlerGroup(cfg, logger, metrics, accounts, outbox,
		timelines, statuses)
	router := server.NewMux([]server.IHandlerGroup{group}, logger)

	return &apiFixture{storage: storage, router: router}
}

func (fix *apiFixture) request(method, path, body, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-KEY", apiKey)
	}
	rec := httptest.NewRecorder()
	fix.router.ServeHTTP(rec, req)
	return rec
}

func TestApiAuth(t *testing.T) {

	fix := newApiFixture(t, "auth")

	rec := fix.request("POST", "/api/accounts", `{"email":"a@b.c","username":"alice"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fix.request("POST", "/api/accounts", `{"email":"a@b.c","username":"alice"}`, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fix.request("POST", "/api/accounts", `{"email":"a@b.c","username":"alice"}`, "test-api-key-2")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApiAccounts(t *testing.T) {

	fix := newApiFixture(t, "accounts")

	rec := fix.request("POST", "/api/accounts", `{"email":"alice@example.com","username":"alice"}`, testApiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ActorId  string `json:"actorId"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://wren.test/users/alice", resp.ActorId)
	assert.Equal(t, "alice", resp.Username)

	rec = fix.request("POST", "/api/accounts", `{"email":"alice@example.com","username":"alice2"}`, testApiKey)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = fix.request("POST", "/api/accounts", `{"email":"x@y.z"}`, testApiKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApiStatuses(t *testing.T) {

	fix := newApiFixture(t, "statuses")

	rec := fix.request("POST", "/api/accounts", `{"email":"alice@example.com","username":"alice"}`, testApiKey)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fix.request("POST", "/api/statuses",
		`{"username":"alice","text":"<p>Hello fedi</p>"}`, testApiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Id   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "Note", status.Type)
	assert.Equal(t, "<p>Hello fedi</p>", status.Text)
	assert.True(t, strings.HasPrefix(status.Id, "https://wren.test/users/alice/statuses/"))

	// The note shows up in the local-public feed
	rec = fix.request("GET", "/api/timelines/local-public", "", testApiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed []struct {
		Id string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed, 1)
	assert.Equal(t, status.Id, feed[0].Id)

	rec = fix.request("DELETE", "/api/statuses",
		fmt.Sprintf(`{"username":"alice","statusId":%q}`, status.Id), testApiKey)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = fix.request("DELETE", "/api/statuses",
		fmt.Sprintf(`{"username":"alice","statusId":%q}`, status.Id), testApiKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApiTimelineValidation(t *testing.T) {

	fix := newApiFixture(t, "timeline-validation")

	rec := fix.request("GET", "/api/timelines/bogus", "", testApiKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Owner-scoped timelines need the actor param
	rec = fix.request("GET", "/api/timelines/main", "", testApiKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fix.request("GET", "/api/timelines/main?actor=https://wren.test/users/alice", "", testApiKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	var feed []struct{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Empty(t, feed)
}

func TestApiFollows(t *testing.T) {

	fix := newApiFixture(t, "follows")

	rec := fix.request("POST", "/api/accounts", `{"email":"alice@example.com","username":"alice"}`, testApiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	pixie, err := fix.storage.CreateActor(&dal.CreateActorParams{
		ActorId:      "https://stardust.community/users/pixie",
		Username:     "pixie",
		Domain:       "stardust.community",
		FollowersUrl: "https://stardust.community/users/pixie/followers",
		InboxUrl:     "https://stardust.community/users/pixie/inbox",
		PublicKey:    "PEM",
	})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"username":"alice","target":%q}`, pixie.Id)
	rec = fix.request("POST", "/api/follows", body, testApiKey)
	require.Equal(t, http.StatusAccepted, rec.Code)

	follow, err := fix.storage.GetAcceptedOrRequestedFollow("https://wren.test/users/alice", pixie.Id)
	require.NoError(t, err)
	require.NotNil(t, follow)
	assert.Equal(t, dal.FollowRequested, follow.Status)

	rec = fix.request("DELETE", "/api/follows", body, testApiKey)
	require.Equal(t, http.StatusAccepted, rec.Code)
	follow, err = fix.storage.GetAcceptedOrRequestedFollow("https://wren.test/users/alice", pixie.Id)
	require.NoError(t, err)
	assert.Nil(t, follow)

	// Unfollow without a follow is a client error
	rec = fix.request("DELETE", "/api/follows", body, testApiKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
