package logic

import (
	"errors"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"wren/dal"
	"wren/dto"
	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_status_repo.go -package mocks wren/logic IStatusRepo

// Bounds on recursive traversal over stored statuses. Exceeding either
// is an integrity fault, not a crash.
const (
	maxReplyCascade  = 10000
	maxAnnounceChain = 8
)

// IStatusRepo creates, reads and deletes notes and announces together
// with their attachments, tags and likes.
type IStatusRepo interface {
	CreateNote(actorId string, note *dto.Note) (*dal.Status, error)
	CreateAnnounce(announceId, actorId string, to, cc []string, originalStatusId string) (*dal.Status, error)
	GetStatus(statusId string) (*dal.Status, error)
	DeleteStatus(statusId string) error
	CreateLike(actorId, statusId string) error
	DeleteLike(actorId, statusId string) error
	MakeNote(status *dal.Status) *dto.Note
}

type statusRepo struct {
	cfg      *shared.Config
	logger   shared.ILogger
	storage  dal.IStorage
	metrics  IMetrics
	sanitize *bluemonday.Policy
}

func NewStatusRepo(
	cfg *shared.Config,
	logger shared.ILogger,
	storage dal.IStorage,
	metrics IMetrics,
) IStatusRepo {
	return &statusRepo{cfg, logger, storage, metrics, bluemonday.UGCPolicy()}
}

// CreateNote persists a normalized note, its recipients, attachments and
// tags. Inbound HTML content is sanitized before storage.
func (sr *statusRepo) CreateNote(actorId string, note *dto.Note) (*dal.Status, error) {

	summary := ""
	if note.Summary != nil {
		summary = *note.Summary
	}
	reply := ""
	if note.InReplyTo != nil {
		reply = *note.InReplyTo
	}
	createdAt := int64(0)
	if published, err := time.Parse(time.RFC3339, note.Published); err == nil {
		createdAt = published.UnixMilli()
	}

	err := sr.storage.InsertNote(&dal.CreateNoteParams{
		Id:        note.Id,
		Url:       note.Url,
		ActorId:   actorId,
		Text:      sr.sanitize.Sanitize(note.Content),
		Summary:   summary,
		To:        note.To,
		Cc:        note.Cc,
		Reply:     reply,
		CreatedAt: createdAt,
	})
	if err != nil {
		return nil, err
	}

	if note.Attachment != nil {
		for _, doc := range *note.Attachment {
			_, err = sr.storage.CreateAttachment(&dal.CreateAttachmentParams{
				StatusId:  note.Id,
				MediaType: doc.MediaType,
				Url:       doc.Url,
				Name:      doc.Name,
				Width:     doc.Width,
				Height:    doc.Height,
			})
			if err != nil {
				return nil, err
			}
		}
	}
	if note.Tag != nil {
		for _, tag := range *note.Tag {
			_, err = sr.storage.CreateTag(&dal.CreateTagParams{
				StatusId: note.Id,
				Type:     tag.Type,
				Name:     tag.Name,
				Value:    tag.Href,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	sr.metrics.StatusSaved()
	return sr.storage.GetStatusRow(note.Id)
}

// CreateAnnounce persists a boost of originalStatusId. Announcing an
// Announce is a data-integrity fault and yields nil without a write.
func (sr *statusRepo) CreateAnnounce(
	announceId, actorId string, to, cc []string, originalStatusId string,
) (*dal.Status, error) {

	original, err := sr.storage.GetStatusRow(originalStatusId)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, nil
	}
	if original.Type == dal.StatusAnnounce {
		sr.logger.Warnf("Refusing to announce an announce: %s boosts %s", announceId, originalStatusId)
		return nil, nil
	}

	err = sr.storage.InsertAnnounce(&dal.CreateAnnounceParams{
		Id:               announceId,
		ActorId:          actorId,
		To:               to,
		Cc:               cc,
		OriginalStatusId: originalStatusId,
	})
	if err != nil {
		return nil, err
	}
	sr.metrics.StatusSaved()
	return sr.GetStatus(announceId)
}

// GetStatus reads a status; for an Announce it resolves the original
// note. A cyclic or announce-of-announce chain is logged as an integrity
// fault and reported as not-found.
func (sr *statusRepo) GetStatus(statusId string) (*dal.Status, error) {

	status, err := sr.storage.GetStatusRow(statusId)
	if err != nil {
		return nil, err
	}
	if status == nil || status.Type != dal.StatusAnnounce {
		return status, nil
	}

	visited := map[string]bool{statusId: true}
	current := status
	for depth := 0; current.Type == dal.StatusAnnounce; depth += 1 {
		if depth >= maxAnnounceChain || visited[current.OriginalStatusId] {
			sr.logger.Errorf("Corrupt announce chain at %s; treating as not found", statusId)
			return nil, nil
		}
		visited[current.OriginalStatusId] = true
		next, err := sr.storage.GetStatusRow(current.OriginalStatusId)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		if next.Type == dal.StatusAnnounce {
			sr.logger.Errorf("Announce %s boosts another announce %s; treating as not found",
				current.Id, next.Id)
			return nil, nil
		}
		current = next
	}
	status.Original = current
	return status, nil
}

// DeleteStatus removes a status and all of its transitive replies.
// Replies go first so no child outlives its parent at any point.
func (sr *statusRepo) DeleteStatus(statusId string) error {

	order := make([]string, 0)
	visited := make(map[string]bool)

	var collect func(id string) error
	collect = func(id string) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		if len(visited) > maxReplyCascade {
			return errors.New("reply cascade exceeds bound; aborting delete")
		}
		replyIds, err := sr.storage.GetStatusReplyIds(id)
		if err != nil {
			return err
		}
		for _, replyId := range replyIds {
			if err = collect(replyId); err != nil {
				return err
			}
		}
		order = append(order, id)
		return nil
	}
	if err := collect(statusId); err != nil {
		return err
	}

	for _, id := range order {
		if err := sr.storage.DeleteStatusRows(id); err != nil {
			return err
		}
		sr.metrics.StatusDeleted()
	}
	return nil
}

// CreateLike records the like if the status exists; liking twice, or an
// unknown status, is a no-op.
func (sr *statusRepo) CreateLike(actorId, statusId string) error {

	status, err := sr.storage.GetStatusRow(statusId)
	if err != nil {
		return err
	}
	if status == nil {
		return nil
	}
	return sr.storage.CreateLike(actorId, statusId)
}

func (sr *statusRepo) DeleteLike(actorId, statusId string) error {
	return sr.storage.DeleteLike(actorId, statusId)
}

// MakeNote converts a stored note back into its wire form.
func (sr *statusRepo) MakeNote(status *dal.Status) *dto.Note {

	summary := status.Summary
	res := dto.Note{
		Id:           status.Id,
		Type:         "Note",
		Url:          status.Url,
		Published:    time.UnixMilli(status.CreatedAt).UTC().Format(time.RFC3339),
		Summary:      &summary,
		AttributedTo: status.ActorId,
		To:           status.To,
		Cc:           status.Cc,
		Content:      status.Text,
	}
	if status.Reply != "" {
		reply := status.Reply
		res.InReplyTo = &reply
	}
	if len(status.Attachments) != 0 {
		docs := make([]dto.Document, 0, len(status.Attachments))
		for _, a := range status.Attachments {
			docs = append(docs, dto.Document{
				Type:      a.Type,
				MediaType: a.MediaType,
				Url:       a.Url,
				Name:      a.Name,
				Width:     a.Width,
				Height:    a.Height,
			})
		}
		res.Attachment = &docs
	}
	if len(status.Tags) != 0 {
		tags := make([]dto.Tag, 0, len(status.Tags))
		for _, t := range status.Tags {
			tags = append(tags, dto.Tag{Type: t.Type, Name: t.Name, Href: t.Value})
		}
		res.Tag = &tags
	}
	return &res
}
