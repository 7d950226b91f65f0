package logic

import (
	"errors"
	"sync"

	"wren/dal"
	"wren/dto"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_broadcaster.go -package mocks wren/logic IBroadcaster

// IBroadcaster delivers outbound activities. Broadcast fans out to every
// follower inbox concurrently; one failed delivery never blocks or fails
// the others, and there is no retry queue.
type IBroadcaster interface {
	SendToInbox(sender *dal.Actor, inboxUrl string, activity *dto.ActivityOut) error
	Broadcast(sender *dal.Actor, activity *dto.ActivityOut) error
}

type broadcaster struct {
	cfg     *shared.Config
	logger  shared.ILogger
	ledger  IFollowLedger
	codec   ISignatureCodec
	sender  IActivitySender
	metrics IMetrics
}

func NewBroadcaster(
	cfg *shared.Config,
	logger shared.ILogger,
	ledger IFollowLedger,
	codec ISignatureCodec,
	sender IActivitySender,
	metrics IMetrics,
) IBroadcaster {
	return &broadcaster{cfg, logger, ledger, codec, sender, metrics}
}

func (bc *broadcaster) SendToInbox(sender *dal.Actor, inboxUrl string, activity *dto.ActivityOut) error {

	if sender.PrivateKey == "" {
		return errors.New("cannot deliver for an actor without a private key")
	}
	privKey, err := bc.codec.DecodePrivKey(sender.PrivateKey)
	if err != nil {
		return err
	}
	return bc.sender.Send(privKey, sender.Id, inboxUrl, activity)
}

func (bc *broadcaster) Broadcast(sender *dal.Actor, activity *dto.ActivityOut) error {

	if sender.PrivateKey == "" {
		return errors.New("cannot deliver for an actor without a private key")
	}
	privKey, err := bc.codec.DecodePrivKey(sender.PrivateKey)
	if err != nil {
		return err
	}
	inboxes, err := bc.ledger.GetFollowersInbox(sender.Id)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, inboxUrl := range inboxes {
		wg.Add(1)
		go func(inboxUrl string) {
			defer wg.Done()
			if err := bc.sender.Send(privKey, sender.Id, inboxUrl, activity); err != nil {
				bc.metrics.DeliveryFailed()
				bc.logger.Warnf("Failed to deliver %s to %s: %v", activity.Id, inboxUrl, err)
			}
		}(inboxUrl)
	}
	wg.Wait()
	return nil
}
