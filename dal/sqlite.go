package dal

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"wren/shared"
)

const schemaVer = 1

//go:embed scripts/*
var scripts embed.FS

// sqliteStorage is the relational adapter. Multi-row writes (status plus
// recipient fan-out, status deletion) run inside a transaction.
type sqliteStorage struct {
	cfg    *shared.Config
	logger shared.ILogger
	db     *sql.DB
	muDb   sync.RWMutex
}

func NewSqliteStorage(cfg *shared.Config, logger shared.ILogger) IStorage {

	var err error
	var db *sql.DB

	// _synchronous=1 is "normal"
	cstr := cfg.Storage.DbFile
	if !strings.HasPrefix(cstr, "file:") {
		cstr = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=1&_busy_timeout=5000", cstr)
	}
	db, err = sql.Open("sqlite3", cstr)
	if err != nil {
		logger.Errorf("Failed to open/create DB file: %s: %v", cfg.Storage.DbFile, err)
		panic(err)
	}

	return &sqliteStorage{
		cfg:    cfg,
		logger: logger,
		db:     db,
	}
}

func (repo *sqliteStorage) Init() error {

	dbVer := 0
	sysParamsExists := false
	var err error
	var rows *sql.Rows

	rows, err = repo.db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name='sys_params'")
	if err != nil {
		return fmt.Errorf("failed to check if 'sys_params' table exists: %w", err)
	}
	for rows.Next() {
		sysParamsExists = true
	}
	_ = rows.Close()
	if !sysParamsExists {
		repo.logger.Printf("Database appears to be empty; current schema version is %d", schemaVer)
	} else {
		row := repo.db.QueryRow("SELECT val FROM sys_params WHERE name='schema_ver'")
		if err = row.Scan(&dbVer); err != nil {
			return fmt.Errorf("failed to query schema version: %w", err)
		}
		repo.logger.Printf("Database is at version %d; current schema version is %d", dbVer, schemaVer)
	}
	for i := dbVer; i < schemaVer; i += 1 {
		nextVer := i + 1
		fn := fmt.Sprintf("scripts/create-%02d.sql", nextVer)
		repo.logger.Printf("Running %s", fn)
		var sqlBytes []byte
		if sqlBytes, err = scripts.ReadFile(fn); err != nil {
			return fmt.Errorf("failed to read init script %s: %w", fn, err)
		}
		if _, err = repo.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to execute init script %s: %w", fn, err)
		}
		_, err = repo.db.Exec("UPDATE sys_params SET val=? WHERE name='schema_ver'", nextVer)
		if err != nil {
			return fmt.Errorf("failed to update schema_ver to %d: %w", nextVer, err)
		}
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		if sqliteErr.Code == 19 && sqliteErr.ExtendedCode == 2067 {
			return true
		}
		// Primary key collision
		if sqliteErr.Code == 19 && sqliteErr.ExtendedCode == 1555 {
			return true
		}
	}
	return false
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ---------------------------------------------------------------------------
// Accounts and actors

func (repo *sqliteStorage) IsAccountExists(email string) (bool, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM accounts WHERE email=?`, email)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count != 0, nil
}

func (repo *sqliteStorage) CreateAccount(p *CreateAccountParams) (string, error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	accountId := uuid.NewString()
	actorId := fmt.Sprintf("https://%s/users/%s", p.Domain, p.Username)
	now := nowMillis()

	tx, err := repo.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO accounts (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		accountId, p.Email, now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return "", fmt.Errorf("account already exists: %s", p.Email)
		}
		return "", err
	}
	_, err = tx.Exec(`INSERT INTO actors
		(id, account_id, username, domain, followers_url, inbox_url, shared_inbox_url, pubkey, privkey, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		actorId, accountId, p.Username, p.Domain,
		actorId+"/followers", actorId+"/inbox", fmt.Sprintf("https://%s/inbox", p.Domain),
		p.PublicKey, p.PrivateKey, now, now)
	if err != nil {
		return "", err
	}
	if err = tx.Commit(); err != nil {
		return "", err
	}
	return accountId, nil
}

func (repo *sqliteStorage) GetAccountFromId(id string) (*Account, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT id, email, created_at, updated_at FROM accounts WHERE id=?`, id)
	var res Account
	err := row.Scan(&res.Id, &res.Email, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (repo *sqliteStorage) IsUsernameExists(username, domain string) (bool, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM actors WHERE username=? AND domain=?`, username, domain)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count != 0, nil
}

const actorColumns = `id, account_id, username, domain, name, summary, icon_url,
	followers_url, inbox_url, shared_inbox_url, pubkey, privkey, created_at, updated_at`

func scanActor(row interface{ Scan(...any) error }) (*Actor, error) {
	var res Actor
	err := row.Scan(&res.Id, &res.AccountId, &res.Username, &res.Domain, &res.Name, &res.Summary,
		&res.IconUrl, &res.FollowersUrl, &res.InboxUrl, &res.SharedInboxUrl,
		&res.PublicKey, &res.PrivateKey, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (repo *sqliteStorage) CreateActor(p *CreateActorParams) (*Actor, error) {

	repo.muDb.Lock()

	now := nowMillis()
	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	_, err := repo.db.Exec(`INSERT INTO actors
		(id, account_id, username, domain, name, summary, icon_url, followers_url, inbox_url, shared_inbox_url, pubkey, privkey, created_at, updated_at)
		VALUES (?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ActorId, p.Username, p.Domain, p.Name, p.Summary, p.IconUrl,
		p.FollowersUrl, p.InboxUrl, p.SharedInboxUrl, p.PublicKey, p.PrivateKey, createdAt, now)
	repo.muDb.Unlock()

	if err != nil && !isDuplicateKey(err) {
		return nil, err
	}
	return repo.GetActorFromId(p.ActorId)
}

func (repo *sqliteStorage) GetActorFromId(id string) (*Actor, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT `+actorColumns+` FROM actors WHERE id=?`, id)
	return scanActor(row)
}

func (repo *sqliteStorage) GetActorFromUsername(username, domain string) (*Actor, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT `+actorColumns+` FROM actors WHERE username=? AND domain=?`, username, domain)
	return scanActor(row)
}

func (repo *sqliteStorage) GetActorFromEmail(email string) (*Actor, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	qualifiedCols := "actors." + strings.ReplaceAll(strings.Join(strings.Fields(actorColumns), " "), ", ", ", actors.")
	row := repo.db.QueryRow(`SELECT `+qualifiedCols+`
		FROM actors JOIN accounts ON actors.account_id=accounts.id
		WHERE accounts.email=?`, email)
	return scanActor(row)
}

func (repo *sqliteStorage) UpdateActor(p *UpdateActorParams) (*Actor, error) {

	repo.muDb.Lock()

	set := make([]string, 0, 8)
	args := make([]any, 0, 8)
	addField := func(col, val string) {
		if val == "" {
			return
		}
		set = append(set, col+"=?")
		args = append(args, val)
	}
	addField("name", p.Name)
	addField("summary", p.Summary)
	addField("icon_url", p.IconUrl)
	addField("pubkey", p.PublicKey)
	addField("followers_url", p.FollowersUrl)
	addField("inbox_url", p.InboxUrl)
	addField("shared_inbox_url", p.SharedInboxUrl)
	set = append(set, "updated_at=?")
	args = append(args, nowMillis())
	args = append(args, p.ActorId)

	_, err := repo.db.Exec(`UPDATE actors SET `+strings.Join(set, ", ")+` WHERE id=?`, args...)
	repo.muDb.Unlock()
	if err != nil {
		return nil, err
	}
	return repo.GetActorFromId(p.ActorId)
}

func (repo *sqliteStorage) DeleteActor(actorId string) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`DELETE FROM actors WHERE id=?`, actorId)
	return err
}

func (repo *sqliteStorage) GetLocalDomains() ([]string, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT DISTINCT domain FROM actors WHERE privkey<>''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]string, 0)
	for rows.Next() {
		var domain string
		if err = rows.Scan(&domain); err != nil {
			return nil, err
		}
		res = append(res, domain)
	}
	return res, rows.Err()
}

// ---------------------------------------------------------------------------
// Follows

func (repo *sqliteStorage) InsertFollow(follow *Follow) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`INSERT INTO follows
		(id, actor_id, actor_host, target_actor_id, target_actor_host, status, inbox, shared_inbox, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		follow.Id, follow.ActorId, follow.ActorHost, follow.TargetActorId, follow.TargetActorHost,
		string(follow.Status), follow.Inbox, follow.SharedInbox, follow.CreatedAt, follow.UpdatedAt)
	return err
}

const followColumns = `id, actor_id, actor_host, target_actor_id, target_actor_host,
	status, inbox, shared_inbox, created_at, updated_at`

func scanFollow(row interface{ Scan(...any) error }) (*Follow, error) {
	var res Follow
	var status string
	err := row.Scan(&res.Id, &res.ActorId, &res.ActorHost, &res.TargetActorId, &res.TargetActorHost,
		&status, &res.Inbox, &res.SharedInbox, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	res.Status = FollowStatus(status)
	return &res, nil
}

func (repo *sqliteStorage) GetFollowFromId(followId string) (*Follow, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT `+followColumns+` FROM follows WHERE id=?`, followId)
	return scanFollow(row)
}

func (repo *sqliteStorage) GetAcceptedOrRequestedFollow(actorId, targetActorId string) (*Follow, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT `+followColumns+` FROM follows
		WHERE actor_id=? AND target_actor_id=? AND status IN ('Accepted', 'Requested')
		ORDER BY created_at DESC LIMIT 1`, actorId, targetActorId)
	return scanFollow(row)
}

func (repo *sqliteStorage) GetAcceptedFollows(targetActorId string) ([]*Follow, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT `+followColumns+` FROM follows
		WHERE target_actor_id=? AND status='Accepted' ORDER BY created_at DESC`, targetActorId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]*Follow, 0)
	for rows.Next() {
		follow, err := scanFollow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, follow)
	}
	return res, rows.Err()
}

func (repo *sqliteStorage) UpdateFollowStatus(followId string, status FollowStatus) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`UPDATE follows SET status=?, updated_at=? WHERE id=?`,
		string(status), nowMillis(), followId)
	return err
}

func (repo *sqliteStorage) IsCurrentActorFollowing(currentActorId, followingActorId string) (bool, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM follows
		WHERE actor_id=? AND target_actor_id=? AND status='Accepted'`, currentActorId, followingActorId)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count != 0, nil
}

func (repo *sqliteStorage) GetActorFollowingCount(actorId string) (int, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM follows WHERE actor_id=? AND status='Accepted'`, actorId)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *sqliteStorage) GetActorFollowersCount(actorId string) (int, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM follows WHERE target_actor_id=? AND status='Accepted'`, actorId)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *sqliteStorage) GetActorFromFollowerUrl(followerUrl string) (*Actor, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT `+actorColumns+` FROM actors WHERE followers_url=?`, followerUrl)
	return scanActor(row)
}

// ---------------------------------------------------------------------------
// Statuses

func (repo *sqliteStorage) InsertNote(p *CreateNoteParams) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	now := nowMillis()
	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}

	tx, err := repo.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO statuses (id, actor_id, type, url, text, summary, reply, original_status_id, created_at, updated_at)
		VALUES (?, ?, 'Note', ?, ?, ?, ?, '', ?, ?)`,
		p.Id, p.ActorId, p.Url, p.Text, p.Summary, p.Reply, createdAt, now)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return err
	}
	if err = insertRecipients(tx, p.Id, p.To, p.Cc, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (repo *sqliteStorage) InsertAnnounce(p *CreateAnnounceParams) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	now := nowMillis()
	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}

	tx, err := repo.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO statuses (id, actor_id, type, url, text, summary, reply, original_status_id, created_at, updated_at)
		VALUES (?, ?, 'Announce', '', '', '', '', ?, ?, ?)`,
		p.Id, p.ActorId, p.OriginalStatusId, createdAt, now)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return err
	}
	if err = insertRecipients(tx, p.Id, p.To, p.Cc, now); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRecipients(tx *sql.Tx, statusId string, to, cc []string, now int64) error {
	insert := func(kind string, ids []string) error {
		for _, actorId := range ids {
			_, err := tx.Exec(`INSERT INTO recipients (id, status_id, actor_id, type, created_at)
				VALUES (?, ?, ?, ?, ?)`, uuid.NewString(), statusId, actorId, kind, now)
			if err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert("to", to); err != nil {
		return err
	}
	return insert("cc", cc)
}

func (repo *sqliteStorage) GetStatusRow(statusId string) (*Status, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT id, actor_id, type, url, text, summary, reply, original_status_id, created_at, updated_at
		FROM statuses WHERE id=?`, statusId)
	var res Status
	var statusType string
	err := row.Scan(&res.Id, &res.ActorId, &statusType, &res.Url, &res.Text, &res.Summary,
		&res.Reply, &res.OriginalStatusId, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	res.Type = StatusType(statusType)

	if res.To, err = repo.getRecipients(statusId, "to"); err != nil {
		return nil, err
	}
	if res.Cc, err = repo.getRecipients(statusId, "cc"); err != nil {
		return nil, err
	}
	if res.Attachments, err = repo.getAttachments(statusId); err != nil {
		return nil, err
	}
	if res.Tags, err = repo.getTags(statusId); err != nil {
		return nil, err
	}
	if res.TotalLikes, err = repo.getLikeCount(statusId); err != nil {
		return nil, err
	}
	return &res, nil
}

func (repo *sqliteStorage) getRecipients(statusId, kind string) ([]string, error) {
	rows, err := repo.db.Query(`SELECT actor_id FROM recipients WHERE status_id=? AND type=? ORDER BY rowid`,
		statusId, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]string, 0)
	for rows.Next() {
		var actorId string
		if err = rows.Scan(&actorId); err != nil {
			return nil, err
		}
		res = append(res, actorId)
	}
	return res, rows.Err()
}

func (repo *sqliteStorage) GetStatusReplyIds(statusId string) ([]string, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT id FROM statuses WHERE reply=? ORDER BY created_at DESC`, statusId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]string, 0)
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (repo *sqliteStorage) GetActorStatusIds(actorId string) ([]string, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT id FROM statuses WHERE actor_id=? AND reply=''
		ORDER BY created_at DESC`, actorId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]string, 0)
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (repo *sqliteStorage) GetActorStatusesCount(actorId string) (int, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM statuses WHERE actor_id=?`, actorId)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteStatusRows removes one status and every row that references it.
// The reply cascade lives in the status repository; this is a single
// atomic unit.
func (repo *sqliteStorage) DeleteStatusRows(statusId string) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	tx, err := repo.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM statuses WHERE id=?`,
		`DELETE FROM recipients WHERE status_id=?`,
		`DELETE FROM tags WHERE status_id=?`,
		`DELETE FROM attachments WHERE status_id=?`,
		`DELETE FROM likes WHERE status_id=?`,
		`DELETE FROM timelines WHERE status_id=?`,
	}
	for _, stmt := range stmts {
		if _, err = tx.Exec(stmt, statusId); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Attachments, tags, likes

func (repo *sqliteStorage) CreateAttachment(p *CreateAttachmentParams) (*Attachment, error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	now := nowMillis()
	res := Attachment{
		Id:        uuid.NewString(),
		StatusId:  p.StatusId,
		Type:      "Document",
		MediaType: p.MediaType,
		Url:       p.Url,
		Name:      p.Name,
		Width:     p.Width,
		Height:    p.Height,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := repo.db.Exec(`INSERT INTO attachments (id, status_id, type, media_type, url, name, width, height, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Id, res.StatusId, res.Type, res.MediaType, res.Url, res.Name, res.Width, res.Height, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (repo *sqliteStorage) GetAttachments(statusId string) ([]*Attachment, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	return repo.getAttachments(statusId)
}

func (repo *sqliteStorage) getAttachments(statusId string) ([]*Attachment, error) {
	rows, err := repo.db.Query(`SELECT id, status_id, type, media_type, url, name, width, height, created_at, updated_at
		FROM attachments WHERE status_id=?`, statusId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]*Attachment, 0)
	for rows.Next() {
		a := Attachment{}
		err = rows.Scan(&a.Id, &a.StatusId, &a.Type, &a.MediaType, &a.Url, &a.Name, &a.Width, &a.Height,
			&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		res = append(res, &a)
	}
	return res, rows.Err()
}

func (repo *sqliteStorage) CreateTag(p *CreateTagParams) (*Tag, error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	now := nowMillis()
	res := Tag{
		Id:        uuid.NewString(),
		StatusId:  p.StatusId,
		Type:      p.Type,
		Name:      p.Name,
		Value:     p.Value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := repo.db.Exec(`INSERT INTO tags (id, status_id, type, name, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.Id, res.StatusId, res.Type, res.Name, res.Value, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (repo *sqliteStorage) GetTags(statusId string) ([]*Tag, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	return repo.getTags(statusId)
}

func (repo *sqliteStorage) getTags(statusId string) ([]*Tag, error) {
	rows, err := repo.db.Query(`SELECT id, status_id, type, name, value, created_at, updated_at
		FROM tags WHERE status_id=?`, statusId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]*Tag, 0)
	for rows.Next() {
		t := Tag{}
		err = rows.Scan(&t.Id, &t.StatusId, &t.Type, &t.Name, &t.Value, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		res = append(res, &t)
	}
	return res, rows.Err()
}

func (repo *sqliteStorage) CreateLike(actorId, statusId string) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`INSERT INTO likes (actor_id, status_id, created_at) VALUES (?, ?, ?)`,
		actorId, statusId, nowMillis())
	if err != nil && isDuplicateKey(err) {
		// Like already recorded; set semantics
		return nil
	}
	return err
}

func (repo *sqliteStorage) DeleteLike(actorId, statusId string) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`DELETE FROM likes WHERE actor_id=? AND status_id=?`, actorId, statusId)
	return err
}

func (repo *sqliteStorage) GetLikeCount(statusId string) (int, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	return repo.getLikeCount(statusId)
}

func (repo *sqliteStorage) getLikeCount(statusId string) (int, error) {
	row := repo.db.QueryRow(`SELECT COUNT(*) FROM likes WHERE status_id=?`, statusId)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *sqliteStorage) IsActorLikedStatus(actorId, statusId string) (bool, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT COUNT(*) FROM likes WHERE actor_id=? AND status_id=?`, actorId, statusId)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count != 0, nil
}

// ---------------------------------------------------------------------------
// Timelines

func (repo *sqliteStorage) CreateTimelineEntry(timeline Timeline, ownerActorId string, status *Status) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`INSERT INTO timelines (timeline, actor_id, status_id, status_actor_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(timeline), ownerActorId, status.Id, status.ActorId, nowMillis())
	if err != nil && isDuplicateKey(err) {
		// Entry already present; insertion is idempotent
		return nil
	}
	return err
}

func (repo *sqliteStorage) GetTimelineEntries(
	timeline Timeline, ownerActorId string, startAfterStatusId string, limit int,
) ([]*TimelineEntry, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	args := []any{string(timeline), ownerActorId}
	query := `SELECT id, timeline, actor_id, status_id, status_actor_id, created_at
		FROM timelines WHERE timeline=? AND actor_id=?`
	if startAfterStatusId != "" {
		row := repo.db.QueryRow(`SELECT id FROM timelines WHERE timeline=? AND actor_id=? AND status_id=?`,
			string(timeline), ownerActorId, startAfterStatusId)
		var cursorId int64
		if err := row.Scan(&cursorId); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return []*TimelineEntry{}, nil
			}
			return nil, err
		}
		query += ` AND id<?`
		args = append(args, cursorId)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := repo.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]*TimelineEntry, 0)
	for rows.Next() {
		e := TimelineEntry{}
		var tl string
		err = rows.Scan(&e.Id, &tl, &e.ActorId, &e.StatusId, &e.StatusActorId, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.Timeline = Timeline(tl)
		res = append(res, &e)
	}
	return res, rows.Err()
}

// ---------------------------------------------------------------------------
// Inbound activity idempotency

func (repo *sqliteStorage) MarkActivityHandled(id string, when int64) (alreadyHandled bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	alreadyHandled = false
	err = nil

	_, err = repo.db.Exec(`INSERT INTO handled_activities VALUES (?, ?)`, id, when)

	if err == nil {
		return
	}

	// Duplicate key: activity was handled before
	if isDuplicateKey(err) {
		alreadyHandled = true
		err = nil
	}

	return
}
