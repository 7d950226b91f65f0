package logic

import (
	"encoding/json"
	"fmt"

	"wren/dto"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_compactor.go -package mocks wren/logic ICompactor

type ActivityKind string

const (
	ActFollow     ActivityKind = "Follow"
	ActAccept     ActivityKind = "Accept"
	ActReject     ActivityKind = "Reject"
	ActUndoFollow ActivityKind = "UndoFollow"
	ActUndoLike   ActivityKind = "UndoLike"
	ActLike       ActivityKind = "Like"
	ActAnnounce   ActivityKind = "Announce"
	ActCreateNote ActivityKind = "CreateNote"
	ActDelete     ActivityKind = "Delete"
	ActIgnored    ActivityKind = "Ignored"
)

// Activity is the compacted form of an inbound document: a closed union
// over the kinds the inbox dispatches on. Anything unrecognized lands in
// the Ignored kind; there is no implicit fallthrough.
type Activity struct {
	Kind  ActivityKind
	Id    string
	Actor string
	To    []string
	Cc    []string
	// Object is the id the activity acts on: the followed actor for
	// Follow, the liked status for Like, the boosted note for Announce,
	// the inner activity's object for Accept / Reject / Undo.
	Object string
	// ObjectActor is the inner activity's actor where the object is
	// itself an activity (Accept, Reject, Undo).
	ObjectActor string
	// Note carries the embedded object of a Create(Note).
	Note *dto.Note
}

// ICompactor canonicalizes raw inbound JSON into the fixed Activity
// vocabulary.
type ICompactor interface {
	Compact(body []byte) (*Activity, error)
}

type compactor struct {
	logger shared.ILogger
}

func NewCompactor(logger shared.ILogger) ICompactor {
	return &compactor{logger}
}

func (c *compactor) Compact(body []byte) (*Activity, error) {

	var base dto.ActivityInBase
	if err := json.Unmarshal(body, &base); err != nil {
		return nil, fmt.Errorf("invalid activity document: %w", err)
	}

	res := Activity{
		Kind:  ActIgnored,
		Id:    base.Id,
		Actor: base.Actor,
		To:    base.To,
		Cc:    base.Cc,
	}

	switch base.Type {
	case "Follow":
		res.Kind = ActFollow
		res.Object = objectId(base.Object)
	case "Accept", "Reject":
		res.Kind = ActAccept
		if base.Type == "Reject" {
			res.Kind = ActReject
		}
		inner, err := innerActivity(body)
		if err != nil {
			return nil, err
		}
		res.ObjectActor = inner.Actor
		res.Object = objectId(inner.Object)
	case "Undo":
		inner, err := innerActivity(body)
		if err != nil {
			return nil, err
		}
		res.ObjectActor = inner.Actor
		res.Object = objectId(inner.Object)
		switch inner.Type {
		case "Follow":
			res.Kind = ActUndoFollow
		case "Like":
			res.Kind = ActUndoLike
		}
	case "Like":
		res.Kind = ActLike
		res.Object = objectId(base.Object)
	case "Announce":
		res.Kind = ActAnnounce
		res.Object = objectId(base.Object)
	case "Create":
		var act dto.ActivityIn[dto.Note]
		if err := json.Unmarshal(body, &act); err != nil {
			return nil, fmt.Errorf("invalid Create activity: %w", err)
		}
		if act.Object.Type == "Note" {
			res.Kind = ActCreateNote
			note := act.Object
			res.Note = &note
			res.Object = note.Id
		}
	case "Delete":
		res.Kind = ActDelete
		res.Object = objectId(base.Object)
	}

	return &res, nil
}

// objectId extracts the id whether the object arrived as a bare string
// or an embedded document.
func objectId(raw any) string {
	if str, ok := raw.(string); ok {
		return str
	}
	if obj, ok := raw.(map[string]interface{}); ok {
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	return ""
}

// innerActivity re-parses the document with the object as an embedded
// activity. A bare string object yields an inner with only the id set.
func innerActivity(body []byte) (*dto.ActivityInBase, error) {
	var withStr dto.ActivityIn[json.RawMessage]
	if err := json.Unmarshal(body, &withStr); err != nil {
		return nil, fmt.Errorf("invalid activity document: %w", err)
	}
	var innerStr string
	if err := json.Unmarshal(withStr.Object, &innerStr); err == nil {
		return &dto.ActivityInBase{Id: innerStr}, nil
	}
	var inner dto.ActivityInBase
	if err := json.Unmarshal(withStr.Object, &inner); err != nil {
		return nil, fmt.Errorf("invalid embedded activity: %w", err)
	}
	return &inner, nil
}
