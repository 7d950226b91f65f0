package logic_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"wren/dal"
	"wren/shared"
	"wren/test/mocks"
)

const testHost = "wren.test"

func makeTestConfig() *shared.Config {
	return &shared.Config{
		Host: testHost,
		Secrets: shared.Secrets{
			SecretPhrase: "correct-horse-battery-staple",
		},
	}
}

// newMockLogger returns a logger that accepts anything; tests assert on
// behavior, not on log lines.
func newMockLogger(ctrl *gomock.Controller) *mocks.MockILogger {
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
	return logger
}

func newMockMetrics(ctrl *gomock.Controller) *mocks.MockIMetrics {
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
	return metrics
}

func newTestStorage(t *testing.T, name string, logger shared.ILogger) dal.IStorage {
	cfg := &shared.Config{
		Host: testHost,
		Storage: shared.StorageConfig{
			Backend: shared.StorageBackendSqlite,
			DbFile:  fmt.Sprintf("file:logic-%s?mode=memory&cache=shared", name),
		},
	}
	storage := dal.NewSqliteStorage(cfg, logger)
	require.NoError(t, storage.Init())
	return storage
}

func storeLocalActor(t *testing.T, storage dal.IStorage, username string) *dal.Actor {
	_, err := storage.CreateAccount(&dal.CreateAccountParams{
		Email:      username + "@" + testHost,
		Username:   username,
		Domain:     testHost,
		PublicKey:  "PUB",
		PrivateKey: "PRIV",
	})
	require.NoError(t, err)
	actor, err := storage.GetActorFromUsername(username, testHost)
	require.NoError(t, err)
	require.NotNil(t, actor)
	return actor
}

func storeRemoteActor(t *testing.T, storage dal.IStorage, username, domain string) *dal.Actor {
	actor, err := storage.CreateActor(&dal.CreateActorParams{
		ActorId:        fmt.Sprintf("https://%s/users/%s", domain, username),
		Username:       username,
		Domain:         domain,
		FollowersUrl:   fmt.Sprintf("https://%s/users/%s/followers", domain, username),
		InboxUrl:       fmt.Sprintf("https://%s/users/%s/inbox", domain, username),
		SharedInboxUrl: fmt.Sprintf("https://%s/inbox", domain),
		PublicKey:      "PEM",
	})
	require.NoError(t, err)
	require.NotNil(t, actor)
	return actor
}
