package database

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100

	roomColumns = "id, external_id, kind, name, listing_id, " +
		"last_message_content, last_message_sender, last_message_at, " +
		"active, created_at, updated_at"
)

func scanRoom(row *sql.Row) (Room, error) {
	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Kind,
		&room.Name,
		&room.ListingId,
		&room.LastMessageContent,
		&room.LastMessageSender,
		&room.LastMessageAt,
		&room.Active,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (email, name, department, password_hash, role, created_at, updated_at) "+
			"VALUES (LOWER($1), $2, $3, $4, $5, $6, $6) "+
			"RETURNING id, email, name, department, avatar_url, role, created_at, updated_at",
		params.EmailAddress,
		params.Name,
		params.Department,
		params.PasswordHash,
		params.Role,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.EmailAddress,
		&u.Name,
		&u.Department,
		&u.AvatarUrl,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET name = $2, department = $3, avatar_url = $4, updated_at = $5 "+
			"WHERE id = $1 RETURNING id, email, name, department, avatar_url, role, created_at, updated_at",
		params.AccountId,
		params.Name,
		params.Department,
		params.AvatarUrl,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.EmailAddress,
		&u.Name,
		&u.Department,
		&u.AvatarUrl,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, name, department, avatar_url, role, suspended, suspended_until, created_at, updated_at "+
			"FROM accounts WHERE id = $1 LIMIT 1",
		accountId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.EmailAddress,
		&u.Name,
		&u.Department,
		&u.AvatarUrl,
		&u.Role,
		&u.Suspended,
		&u.SuspendedUntil,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, name, department, avatar_url, password_hash, role, suspended, suspended_until, created_at, updated_at "+
			"FROM accounts WHERE email = LOWER($1) LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.EmailAddress,
		&u.Name,
		&u.Department,
		&u.AvatarUrl,
		&u.PasswordHash,
		&u.Role,
		&u.Suspended,
		&u.SuspendedUntil,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) SetAccountSuspended(accountId int, suspended bool) error {
	if suspended {
		_, err := db.conn.Exec(
			"UPDATE accounts SET suspended = TRUE, updated_at = $2 WHERE id = $1",
			accountId,
			time.Now().UTC(),
		)
		return err
	}

	_, err := db.conn.Exec(
		"UPDATE accounts SET suspended = FALSE, suspended_until = NULL, updated_at = $2 WHERE id = $1",
		accountId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	return scanRoom(db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms WHERE external_id = $1 LIMIT 1",
		externalId,
	))
}

func (db *PgChatRepository) GetRoomWithParticipants(roomId int) (*Room, error) {
	query := `
		SELECT
				r.id,
				r.external_id,
				r.kind,
				r.name,
				r.listing_id,
				r.last_message_content,
				r.last_message_sender,
				r.last_message_at,
				r.active,
				r.created_at,
				r.updated_at,
				a.id,
				a.name,
				a.department,
				a.avatar_url
		FROM rooms r
		LEFT JOIN participants p ON p.room_id = r.id
		LEFT JOIN accounts a ON a.id = p.account_id
		WHERE r.id = $1
		ORDER BY a.id;
`

	rows, err := db.conn.Query(query, roomId)
	if err != nil {
		return nil, fmt.Errorf("fetch room with participants: %w", err)
	}
	defer rows.Close()

	var room *Room
	for rows.Next() {
		var (
			r          Room
			accountId  sql.NullInt64
			name       sql.NullString
			department sql.NullString
			avatarUrl  sql.NullString
		)

		err := rows.Scan(
			&r.Id,
			&r.ExternalId,
			&r.Kind,
			&r.Name,
			&r.ListingId,
			&r.LastMessageContent,
			&r.LastMessageSender,
			&r.LastMessageAt,
			&r.Active,
			&r.CreatedAt,
			&r.UpdatedAt,
			&accountId,
			&name,
			&department,
			&avatarUrl,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if room == nil {
			r.Participants = make([]User, 0)
			room = &r
		}

		if accountId.Valid {
			room.Participants = append(room.Participants, User{
				Id:         int(accountId.Int64),
				Name:       name.String,
				Department: department.String,
				AvatarUrl:  avatarUrl.String,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if room == nil {
		return nil, sql.ErrNoRows
	}

	return room, nil
}

// GetOrCreateDirectRoom finds or creates the unique direct room for the
// unordered pair (accountId, targetId). The returned bool reports whether a
// new room was created.
func (db *PgChatRepository) GetOrCreateDirectRoom(externalId string, accountId, targetId int) (Room, bool, error) {
	lo, hi := accountId, targetId
	if lo > hi {
		lo, hi = hi, lo
	}
	directKey := fmt.Sprintf("%d:%d", lo, hi)

	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var room Room
	created := true
	err = tx.QueryRow(
		"INSERT INTO rooms (external_id, kind, direct_key, active, created_at, updated_at) "+
			"VALUES ($1, 'direct', $2, TRUE, $3, $3) "+
			"ON CONFLICT (direct_key) DO NOTHING "+
			"RETURNING "+roomColumns,
		externalId,
		directKey,
		now,
	).Scan(
		&room.Id,
		&room.ExternalId,
		&room.Kind,
		&room.Name,
		&room.ListingId,
		&room.LastMessageContent,
		&room.LastMessageSender,
		&room.LastMessageAt,
		&room.Active,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// A room for this pair already exists.
		created = false
		err = tx.QueryRow(
			"SELECT "+roomColumns+" FROM rooms WHERE direct_key = $1 LIMIT 1",
			directKey,
		).Scan(
			&room.Id,
			&room.ExternalId,
			&room.Kind,
			&room.Name,
			&room.ListingId,
			&room.LastMessageContent,
			&room.LastMessageSender,
			&room.LastMessageAt,
			&room.Active,
			&room.CreatedAt,
			&room.UpdatedAt,
		)
	}
	if err != nil {
		return Room{}, false, err
	}

	if created {
		for _, id := range []int{lo, hi} {
			if _, err = tx.Exec(
				"INSERT INTO participants (room_id, account_id, created_at) VALUES ($1, $2, $3) "+
					"ON CONFLICT (room_id, account_id) DO NOTHING",
				room.Id,
				id,
				now,
			); err != nil {
				return Room{}, false, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return Room{}, false, err
	}

	return room, created, nil
}

// GetOrCreateGroupRoom finds or creates the unique group room for a listing
// and adds joinerId to its participants if not already present.
func (db *PgChatRepository) GetOrCreateGroupRoom(externalId, listingId, name string, joinerId int) (Room, bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var room Room
	created := true
	err = tx.QueryRow(
		"INSERT INTO rooms (external_id, kind, listing_id, name, active, created_at, updated_at) "+
			"VALUES ($1, 'group', $2, $3, TRUE, $4, $4) "+
			"ON CONFLICT (listing_id) DO NOTHING "+
			"RETURNING "+roomColumns,
		externalId,
		listingId,
		name,
		now,
	).Scan(
		&room.Id,
		&room.ExternalId,
		&room.Kind,
		&room.Name,
		&room.ListingId,
		&room.LastMessageContent,
		&room.LastMessageSender,
		&room.LastMessageAt,
		&room.Active,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		created = false
		err = tx.QueryRow(
			"SELECT "+roomColumns+" FROM rooms WHERE listing_id = $1 LIMIT 1",
			listingId,
		).Scan(
			&room.Id,
			&room.ExternalId,
			&room.Kind,
			&room.Name,
			&room.ListingId,
			&room.LastMessageContent,
			&room.LastMessageSender,
			&room.LastMessageAt,
			&room.Active,
			&room.CreatedAt,
			&room.UpdatedAt,
		)
	}
	if err != nil {
		return Room{}, false, err
	}

	if _, err = tx.Exec(
		"INSERT INTO participants (room_id, account_id, created_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (room_id, account_id) DO NOTHING",
		room.Id,
		joinerId,
		now,
	); err != nil {
		return Room{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, false, err
	}

	return room, created, nil
}

func (db *PgChatRepository) IsParticipant(roomId, accountId int) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT 1 FROM participants WHERE room_id = $1 AND account_id = $2 LIMIT 1",
		roomId,
		accountId,
	)

	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (db *PgChatRepository) ListRoomsForAccount(accountId int) ([]Room, error) {
	query := `
		SELECT
				r.id,
				r.external_id,
				r.kind,
				r.name,
				r.listing_id,
				r.last_message_content,
				r.last_message_sender,
				r.last_message_at,
				r.active,
				r.created_at,
				r.updated_at,
				a.id,
				a.name,
				a.department,
				a.avatar_url
		FROM rooms r
		JOIN participants me ON me.room_id = r.id AND me.account_id = $1
		JOIN participants p ON p.room_id = r.id
		JOIN accounts a ON a.id = p.account_id
		WHERE r.active
		ORDER BY COALESCE(r.last_message_at, r.updated_at) DESC, r.id, a.id;
`

	rows, err := db.conn.Query(query, accountId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	index := make(map[int]int)
	for rows.Next() {
		var (
			r          Room
			pId        int
			pName      string
			pDept      string
			pAvatarUrl string
		)

		if err = rows.Scan(
			&r.Id,
			&r.ExternalId,
			&r.Kind,
			&r.Name,
			&r.ListingId,
			&r.LastMessageContent,
			&r.LastMessageSender,
			&r.LastMessageAt,
			&r.Active,
			&r.CreatedAt,
			&r.UpdatedAt,
			&pId,
			&pName,
			&pDept,
			&pAvatarUrl,
		); err != nil {
			return nil, err
		}

		i, ok := index[r.Id]
		if !ok {
			r.Participants = make([]User, 0, 2)
			rooms = append(rooms, r)
			i = len(rooms) - 1
			index[r.Id] = i
		}

		rooms[i].Participants = append(rooms[i].Participants, User{
			Id:         pId,
			Name:       pName,
			Department: pDept,
			AvatarUrl:  pAvatarUrl,
		})
	}

	return rooms, rows.Err()
}

// CreateMessage persists a message with a server-assigned timestamp and
// updates the owning room's last-message summary in the same transaction.
func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	msg := Message{
		ExternalId: params.ExternalId,
		RoomId:     params.RoomId,
		SenderId:   params.SenderId,
		Content:    params.Content,
	}

	err = tx.QueryRow(
		"INSERT INTO messages (external_id, room_id, sender_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		params.ExternalId,
		params.RoomId,
		params.SenderId,
		params.Content,
		time.Now().UTC(),
	).Scan(&msg.Id, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	if _, err = tx.Exec(
		"UPDATE rooms SET last_message_content = $2, last_message_sender = $3, last_message_at = $4, updated_at = $4 "+
			"WHERE id = $1",
		params.RoomId,
		params.Content,
		params.SenderId,
		msg.CreatedAt,
	); err != nil {
		return Message{}, err
	}

	err = tx.QueryRow(
		"SELECT name, avatar_url FROM accounts WHERE id = $1",
		params.SenderId,
	).Scan(&msg.SenderName, &msg.SenderAvatar)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// GetMessages returns a page of a room's messages most recent first.
// Page 1 is the newest page; callers wanting chronological order reverse it.
func (db *PgChatRepository) GetMessages(roomId, page, limit int) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	rows, err := db.conn.Query(
		"SELECT m.id, m.external_id, m.room_id, m.sender_id, a.name, a.avatar_url, m.content, m.created_at "+
			"FROM messages m JOIN accounts a ON a.id = m.sender_id "+
			"WHERE m.room_id = $1 ORDER BY m.created_at DESC, m.id DESC LIMIT $2 OFFSET $3",
		roomId,
		limit,
		(page-1)*limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(
			&msg.Id,
			&msg.ExternalId,
			&msg.RoomId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.SenderAvatar,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgChatRepository) DeactivateRoom(roomId int) error {
	_, err := db.conn.Exec(
		"UPDATE rooms SET active = FALSE, updated_at = $2 WHERE id = $1",
		roomId,
		time.Now().UTC(),
	)

	return err
}
