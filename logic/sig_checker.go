package logic

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"wren/dal"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_sig_checker.go -package mocks wren/logic ISigChecker

// ISigChecker authenticates an inbound request against the sending
// actor's published key. A reqProblem describes a rejected request; err
// is reserved for our own failures.
type ISigChecker interface {
	Check(r *http.Request) (actor *dal.Actor, reqProblem string, err error)
}

type sigChecker struct {
	logger  shared.ILogger
	codec   ISignatureCodec
	actors  IActorDirectory
	reKeyId *regexp.Regexp
}

func NewSigChecker(logger shared.ILogger, codec ISignatureCodec, actors IActorDirectory) ISigChecker {
	reKeyId := regexp.MustCompile(`keyId=['"]([^'"]+)['"]`)
	return &sigChecker{logger, codec, actors, reKeyId}
}

func (chk *sigChecker) Check(r *http.Request) (*dal.Actor, string, error) {

	sigHeader := r.Header.Get("Signature")
	groups := chk.reKeyId.FindStringSubmatch(sigHeader)
	if groups == nil {
		return nil, "Missing or invalid 'Signature' header", nil
	}
	actorId := strings.TrimSuffix(groups[1], "#main-key")
	if ix := strings.IndexByte(actorId, '#'); ix != -1 {
		actorId = actorId[:ix]
	}

	actor, err := chk.actors.GetOrFetchActor(actorId)
	if err != nil {
		return nil, fmt.Sprintf("Failed to retrieve signing actor %s: %v", actorId, err), nil
	}

	if chk.codec.Verify(r.Method, r.URL.Path, r.Header, actor.PublicKey) {
		return actor, "", nil
	}

	// The cached key may be stale after a remote key rotation
	if !actor.IsLocal() {
		if actor, err = chk.actors.RefreshActor(actorId); err != nil {
			return nil, fmt.Sprintf("Failed to refresh signing actor %s: %v", actorId, err), nil
		}
		if chk.codec.Verify(r.Method, r.URL.Path, r.Header, actor.PublicKey) {
			return actor, "", nil
		}
	}

	return nil, fmt.Sprintf("Incorrect signature from actor %s", actorId), nil
}
