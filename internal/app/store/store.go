/*
Package store implements the durable state layer for the chat system.

This file defines the Store and Tx interfaces consumed by the chat subsystem
and their PostgreSQL implementation. Mutations and the notification emit that
belongs to them always share one transaction, so a change is either persisted
and broadcast together or not at all (modulo a crash between commit and
delivery, which the connect-time snapshot repairs).
*/
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const suggestionLimit = 20

// Store is the persistence surface the chat subsystem reads from.
type Store interface {
	// ChatData returns name, member ids, and message history for each chat id.
	// An empty id set returns an empty result without querying.
	ChatData(ctx context.Context, chatIDs []int64) ([]ChatData, error)

	// UserData returns public detail for each user id.
	// An empty id set returns an empty result without querying.
	UserData(ctx context.Context, userIDs []int64) ([]UserData, error)

	// MemberChatIDs returns the ids of every chat the user is a member of.
	MemberChatIDs(ctx context.Context, userID int64) ([]int64, error)

	// IsMember reports whether the user is currently a member of the chat.
	IsMember(ctx context.Context, userID, chatID int64) (bool, error)

	// SearchChats returns chats whose name contains the search string.
	SearchChats(ctx context.Context, search string) ([]ChatSuggestion, error)

	// SearchUsers returns users whose username or realname contains the search string.
	SearchUsers(ctx context.Context, search string) ([]UserData, error)

	// Begin opens one unit of work combining state mutations with notification emits.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one unit of work against the store. Notify rides on the same
// transaction as the mutations, so commit makes both durable atomically.
type Tx interface {
	CreateChat(ctx context.Context, name string) (int64, error)
	InsertMembership(ctx context.Context, userID, chatID int64) (bool, error)
	DeleteMembership(ctx context.Context, userID, chatID int64) error
	InsertMessage(ctx context.Context, chatID, userID int64, writeTime time.Time, text string) error
	AdjustConnectedCount(ctx context.Context, userID int64, delta int32) error
	Notify(ctx context.Context, channel, payload string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps the given pool in a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// ChatData assembles the consolidated state of the given chats from the
// chats, inchat, and messages tables. Messages are ordered by insertion id,
// which also breaks write_time ties between processes.
func (p *Postgres) ChatData(ctx context.Context, chatIDs []int64) ([]ChatData, error) {
	if len(chatIDs) == 0 {
		return []ChatData{}, nil
	}

	rows, err := p.pool.Query(ctx, `SELECT id, name FROM chats WHERE id = ANY($1) ORDER BY id`, chatIDs)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}

	data := []ChatData{}
	index := map[int64]int{}

	for rows.Next() {
		var cd ChatData
		if err := rows.Scan(&cd.ChatID, &cd.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		cd.Users = []int64{}
		cd.Messages = []ChatMessage{}
		index[cd.ChatID] = len(data)
		data = append(data, cd)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chat rows: %w", err)
	}

	if len(data) == 0 {
		return data, nil
	}

	found := make([]int64, 0, len(data))
	for _, cd := range data {
		found = append(found, cd.ChatID)
	}

	rows, err = p.pool.Query(ctx, `SELECT chatid, userid FROM inchat WHERE chatid = ANY($1) ORDER BY id`, found)
	if err != nil {
		return nil, fmt.Errorf("query chat members: %w", err)
	}
	for rows.Next() {
		var chatID, userID int64
		if err := rows.Scan(&chatID, &userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		i := index[chatID]
		data[i].Users = append(data[i].Users, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read membership rows: %w", err)
	}

	rows, err = p.pool.Query(ctx,
		`SELECT chatid, userid, write_time, text FROM messages WHERE chatid = ANY($1) ORDER BY id`, found)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	for rows.Next() {
		var chatID int64
		var msg ChatMessage
		if err := rows.Scan(&chatID, &msg.UserID, &msg.WriteTime, &msg.Text); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		i := index[chatID]
		data[i].Messages = append(data[i].Messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read message rows: %w", err)
	}

	return data, nil
}

// UserData returns public user detail for the given ids.
func (p *Postgres) UserData(ctx context.Context, userIDs []int64) ([]UserData, error) {
	if len(userIDs) == 0 {
		return []UserData{}, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, username, realname, connected FROM users WHERE id = ANY($1) ORDER BY id`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []UserData{}
	for rows.Next() {
		var u UserData
		if err := rows.Scan(&u.UserID, &u.Username, &u.Realname, &u.Connected); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// MemberChatIDs returns the ids of every chat the user belongs to.
func (p *Postgres) MemberChatIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT chatid FROM inchat WHERE userid = $1 ORDER BY chatid`, userID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsMember reports whether the user is currently a member of the chat.
func (p *Postgres) IsMember(ctx context.Context, userID, chatID int64) (bool, error) {
	var member bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM inchat WHERE userid = $1 AND chatid = $2)`, userID, chatID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return member, nil
}

// SearchChats returns chats whose name contains the search string, case-insensitively.
func (p *Postgres) SearchChats(ctx context.Context, search string) ([]ChatSuggestion, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name FROM chats WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT $2`,
		search, suggestionLimit)
	if err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	defer rows.Close()

	suggestions := []ChatSuggestion{}
	for rows.Next() {
		var s ChatSuggestion
		if err := rows.Scan(&s.ChatID, &s.Name); err != nil {
			return nil, fmt.Errorf("scan chat suggestion: %w", err)
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, rows.Err()
}

// SearchUsers returns users whose username or realname contains the search string.
func (p *Postgres) SearchUsers(ctx context.Context, search string) ([]UserData, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, username, realname, connected FROM users
		 WHERE username ILIKE '%' || $1 || '%' OR realname ILIKE '%' || $1 || '%'
		 ORDER BY username LIMIT $2`,
		search, suggestionLimit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := []UserData{}
	for rows.Next() {
		var u UserData
		if err := rows.Scan(&u.UserID, &u.Username, &u.Realname, &u.Connected); err != nil {
			return nil, fmt.Errorf("scan user suggestion: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CredentialsByUsername fetches the user id and password hash for a login
// attempt. Returns pgx.ErrNoRows when the username is unknown.
func (p *Postgres) CredentialsByUsername(ctx context.Context, username string) (Credentials, error) {
	var c Credentials
	err := p.pool.QueryRow(ctx,
		`SELECT id, password_hash FROM users WHERE username = $1`, username).Scan(&c.UserID, &c.PasswordHash)
	if err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// CreateUser inserts a new user account and returns its id.
func (p *Postgres) CreateUser(ctx context.Context, username, realname, passwordHash string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (username, realname, password_hash, connected) VALUES ($1, $2, $3, 0) RETURNING id`,
		username, realname, passwordHash).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Begin opens a transaction-backed unit of work.
func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// pgTx implements Tx on a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateChat(ctx context.Context, name string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO chats (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create chat: %w", err)
	}
	return id, nil
}

// InsertMembership adds the user to the chat. Reports false when the user was
// already a member, which keeps repeated joins idempotent.
func (t *pgTx) InsertMembership(ctx context.Context, userID, chatID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO inchat (userid, chatid) VALUES ($1, $2) ON CONFLICT (userid, chatid) DO NOTHING`,
		userID, chatID)
	if err != nil {
		return false, fmt.Errorf("insert membership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) DeleteMembership(ctx context.Context, userID, chatID int64) error {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM inchat WHERE userid = $1 AND chatid = $2`, userID, chatID); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

func (t *pgTx) InsertMessage(ctx context.Context, chatID, userID int64, writeTime time.Time, text string) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO messages (chatid, userid, write_time, text) VALUES ($1, $2, $3, $4)`,
		chatID, userID, writeTime, text); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (t *pgTx) AdjustConnectedCount(ctx context.Context, userID int64, delta int32) error {
	if _, err := t.tx.Exec(ctx,
		`UPDATE users SET connected = GREATEST(connected + $2, 0) WHERE id = $1`, userID, delta); err != nil {
		return fmt.Errorf("adjust connected count: %w", err)
	}
	return nil
}

// Notify emits a payload on the shared notification channel. The emit becomes
// visible to listeners only when the transaction commits.
func (t *pgTx) Notify(ctx context.Context, channel, payload string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
