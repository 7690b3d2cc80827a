package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

const (
	getUserSQL       = "SELECT id, code, full_name, avatar_url, created_at FROM users WHERE id = ?"
	getUserByCodeSQL = "SELECT id, code, full_name, avatar_url, created_at FROM users WHERE code = ?"
	insertUserSQL    = "INSERT INTO users (id, code, full_name, avatar_url, created_at) VALUES (?,?,?,?,?)"

	areFriendsSQL  = "SELECT COUNT(*) FROM friendships WHERE user_id = ? AND friend_id = ?"
	listFriendsSQL = "SELECT u.id, u.code, u.full_name, u.avatar_url, u.created_at " +
		"FROM friendships AS f, users AS u " +
		"WHERE f.user_id = ? AND u.id = f.friend_id ORDER BY u.full_name, u.id"
	insertFriendshipSQL = "INSERT INTO friendships (user_id, friend_id) VALUES (?,?)"

	insertRequestSQL  = "INSERT INTO friend_requests (id, from_id, to_id, status, created_at) VALUES (?,?,?,?,?)"
	getRequestSQL     = "SELECT id, from_id, to_id, status, created_at FROM friend_requests WHERE id = ?"
	listPendingSQL    = "SELECT id, from_id, to_id, status, created_at FROM friend_requests WHERE to_id = ? AND status = 'pending' ORDER BY created_at DESC, id DESC"
	findPairSQL       = "SELECT id, from_id, to_id, status, created_at FROM friend_requests WHERE (from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?) ORDER BY created_at DESC, id DESC LIMIT 1"
	resolveRequestSQL = "UPDATE friend_requests SET status = ? WHERE id = ? AND status = 'pending'"

	insertPendingPairSQL = "INSERT INTO pending_pairs (pair_key, request_id) VALUES (?,?)"
	deletePendingPairSQL = "DELETE FROM pending_pairs WHERE request_id = ?"

	insertMessageSQL = "INSERT INTO messages (id, sender_id, receiver_id, body, image_url, " +
		"file_url, file_name, file_type, file_size, audio_url, audio_duration, seq, created_at) " +
		"VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)"
	listMessagesSQL = "SELECT id, sender_id, receiver_id, body, image_url, " +
		"file_url, file_name, file_type, file_size, audio_url, audio_duration, seq, created_at " +
		"FROM messages WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?) " +
		"ORDER BY created_at, seq"
	maxSeqSQL = "SELECT MAX(seq) FROM messages"
)

// sqlStore implements `Store` on top of database/sql, for the mysql and
// sqlite3 drivers.
type sqlStore struct {
	*sql.DB
	driver string
}

// NewSQL wraps an open database handle. `driver` picks duplicate-key
// detection and schema dialect; it must be DriverMySQL or DriverSQLite.
func NewSQL(db *sql.DB, driver string) (*sqlStore, error) {
	if driver != DriverMySQL && driver != DriverSQLite {
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	return &sqlStore{DB: db, driver: driver}, nil
}

// InitSchema creates missing tables and indexes.
func (s *sqlStore) InitSchema(ctx context.Context) error {
	for _, q := range schemaFor(s.driver) {
		if _, err := s.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: init schema: %v", err)
		}
	}
	return nil
}

func schemaFor(driver string) []string {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(40) NOT NULL PRIMARY KEY,
			code VARCHAR(16) NOT NULL UNIQUE,
			full_name VARCHAR(120) NOT NULL,
			avatar_url VARCHAR(512) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friendships (
			user_id VARCHAR(40) NOT NULL,
			friend_id VARCHAR(40) NOT NULL,
			PRIMARY KEY (user_id, friend_id)
		)`,
		`CREATE TABLE IF NOT EXISTS friend_requests (
			id VARCHAR(40) NOT NULL PRIMARY KEY,
			from_id VARCHAR(40) NOT NULL,
			to_id VARCHAR(40) NOT NULL,
			status VARCHAR(10) NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		// At most one pending request per unordered pair: the row exists while
		// a request is pending and is removed on resolve. The unique key makes
		// the duplicate check and the insert one atomic statement.
		`CREATE TABLE IF NOT EXISTS pending_pairs (
			pair_key VARCHAR(90) NOT NULL PRIMARY KEY,
			request_id VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(40) NOT NULL PRIMARY KEY,
			sender_id VARCHAR(40) NOT NULL,
			receiver_id VARCHAR(40) NOT NULL,
			body TEXT NOT NULL,
			image_url VARCHAR(512) NOT NULL DEFAULT '',
			file_url VARCHAR(512) NOT NULL DEFAULT '',
			file_name VARCHAR(255) NOT NULL DEFAULT '',
			file_type VARCHAR(120) NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			audio_url VARCHAR(512) NOT NULL DEFAULT '',
			audio_duration DOUBLE NOT NULL DEFAULT 0,
			seq BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS; sqlite has no inline KEY
	// clause. Same indexes, per-dialect syntax.
	if driver == DriverSQLite {
		return append(tables,
			"CREATE INDEX IF NOT EXISTS idx_requests_to ON friend_requests(to_id, status)",
			"CREATE INDEX IF NOT EXISTS idx_requests_pair ON friend_requests(from_id, to_id)",
			"CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at, seq)",
		)
	}
	tables[2] = `CREATE TABLE IF NOT EXISTS friend_requests (
			id VARCHAR(40) NOT NULL PRIMARY KEY,
			from_id VARCHAR(40) NOT NULL,
			to_id VARCHAR(40) NOT NULL,
			status VARCHAR(10) NOT NULL,
			created_at BIGINT NOT NULL,
			KEY idx_requests_to (to_id, status),
			KEY idx_requests_pair (from_id, to_id)
		)`
	tables[4] = `CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(40) NOT NULL PRIMARY KEY,
			sender_id VARCHAR(40) NOT NULL,
			receiver_id VARCHAR(40) NOT NULL,
			body TEXT NOT NULL,
			image_url VARCHAR(512) NOT NULL DEFAULT '',
			file_url VARCHAR(512) NOT NULL DEFAULT '',
			file_name VARCHAR(255) NOT NULL DEFAULT '',
			file_type VARCHAR(120) NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			audio_url VARCHAR(512) NOT NULL DEFAULT '',
			audio_duration DOUBLE NOT NULL DEFAULT 0,
			seq BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			KEY idx_messages_pair (sender_id, receiver_id, created_at, seq)
		)`
	return tables
}

func (s *sqlStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

// isDupKeyError reports whether err is a unique-constraint violation for the
// configured driver.
func (s *sqlStore) isDupKeyError(err error) bool {
	switch s.driver {
	case DriverMySQL:
		if val, ok := err.(*mysql.MySQLError); ok {
			return val.Number == 1062
		}
	case DriverSQLite:
		if val, ok := err.(sqlite3.Error); ok {
			return val.ExtendedCode == sqlite3.ErrConstraintUnique ||
				val.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
		}
	}
	return false
}

func (s *sqlStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.ExecContext(ctx, insertUserSQL,
		u.ID, u.Code, u.FullName, u.AvatarURL, u.CreatedAt.UnixMilli())
	return err
}

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Code, &u.FullName, &u.AvatarURL, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(createdAt)
	return &u, nil
}

func (s *sqlStore) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(s.QueryRowContext(ctx, getUserSQL, id))
}

func (s *sqlStore) GetUserByCode(ctx context.Context, code string) (*User, error) {
	return scanUser(s.QueryRowContext(ctx, getUserByCodeSQL, code))
}

func (s *sqlStore) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var n int
	if err := s.QueryRowContext(ctx, areFriendsSQL, a, b).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) ListFriends(ctx context.Context, id string) ([]*User, error) {
	rows, err := s.QueryContext(ctx, listFriendsSQL, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateFriendRequest(ctx context.Context, r *FriendRequest) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertPendingPairSQL, PairKey(r.From, r.To), r.ID); err != nil {
			if s.isDupKeyError(err) {
				return ErrDuplicatePending
			}
			return err
		}
		_, err := tx.ExecContext(ctx, insertRequestSQL,
			r.ID, r.From, r.To, r.Status, r.CreatedAt.UnixMilli())
		return err
	})
}

func scanRequest(row interface{ Scan(...interface{}) error }) (*FriendRequest, error) {
	var r FriendRequest
	var createdAt int64
	if err := row.Scan(&r.ID, &r.From, &r.To, &r.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	return &r, nil
}

func (s *sqlStore) GetFriendRequest(ctx context.Context, id string) (*FriendRequest, error) {
	return scanRequest(s.QueryRowContext(ctx, getRequestSQL, id))
}

func (s *sqlStore) ListPendingRequests(ctx context.Context, to string) ([]*FriendRequest, error) {
	rows, err := s.QueryContext(ctx, listPendingSQL, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FriendRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) FindRequestForPair(ctx context.Context, a, b string) (*FriendRequest, error) {
	return scanRequest(s.QueryRowContext(ctx, findPairSQL, a, b, b, a))
}

func (s *sqlStore) ResolveFriendRequest(ctx context.Context, id, status string) error {
	if status != StatusAccepted && status != StatusRejected {
		return fmt.Errorf("store: %q is not a terminal status", status)
	}
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, resolveRequestSQL, status, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// The CAS matched nothing: either the id is unknown or another
			// caller already resolved it.
			if _, err := scanRequest(tx.QueryRowContext(ctx, getRequestSQL, id)); err != nil {
				return err
			}
			return ErrAlreadyResolved
		}

		if _, err := tx.ExecContext(ctx, deletePendingPairSQL, id); err != nil {
			return err
		}

		if status != StatusAccepted {
			return nil
		}

		r, err := scanRequest(tx.QueryRowContext(ctx, getRequestSQL, id))
		if err != nil {
			return err
		}
		for _, edge := range [][2]string{{r.From, r.To}, {r.To, r.From}} {
			if _, err := tx.ExecContext(ctx, insertFriendshipSQL, edge[0], edge[1]); err != nil {
				if s.isDupKeyError(err) {
					continue
				}
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) SaveMessage(ctx context.Context, m *Message) error {
	var file FileAttachment
	if m.File != nil {
		file = *m.File
	}
	var audio AudioAttachment
	if m.Audio != nil {
		audio = *m.Audio
	}
	_, err := s.ExecContext(ctx, insertMessageSQL,
		m.ID, m.Sender, m.Receiver, m.Text, m.Image,
		file.URL, file.Name, file.Type, file.Size,
		audio.URL, audio.Duration,
		m.Seq, m.CreatedAt.UnixMilli())
	return err
}

func (s *sqlStore) ListMessages(ctx context.Context, a, b string) ([]*Message, error) {
	rows, err := s.QueryContext(ctx, listMessagesSQL, a, b, b, a)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var file FileAttachment
		var audio AudioAttachment
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Text, &m.Image,
			&file.URL, &file.Name, &file.Type, &file.Size,
			&audio.URL, &audio.Duration,
			&m.Seq, &createdAt); err != nil {
			return nil, err
		}
		if file.URL != "" {
			m.File = &file
		}
		if audio.URL != "" {
			m.Audio = &audio
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *sqlStore) MaxSeq(ctx context.Context) (int64, error) {
	var out sql.NullInt64
	if err := s.QueryRowContext(ctx, maxSeqSQL).Scan(&out); err != nil {
		return 0, err
	}
	if out.Valid {
		return out.Int64, nil
	}
	return 0, nil
}
