package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepository starts a throwaway postgres instance, applies the
// schema and returns a repository connected to it. The instance is torn
// down when the test finishes.
func newTestRepository(t *testing.T) *PgChatRepository {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	const (
		port     = 5433
		user     = "campuschat"
		password = "campuschat_secret"
		database = "campuschat"
	)

	tmp := t.TempDir()
	pg := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(filepath.Join(tmp, "pgdata")).
			RuntimePath(filepath.Join(tmp, "pgruntime")),
	)

	require.NoError(t, pg.Start(), "failed to start embedded postgres")
	t.Cleanup(func() {
		if err := pg.Stop(); err != nil {
			t.Logf("failed to stop embedded postgres: %v", err)
		}
	})

	dsn := fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database)

	repo, err := NewPgChatRepository(dsn)
	require.NoError(t, err, "failed to connect to embedded postgres")
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.Migrate(), "failed to apply migrations")
	return repo
}

func createTestAccount(t *testing.T, repo *PgChatRepository, email, name string) User {
	t.Helper()

	user, err := repo.CreateAccount(CreateAccountParams{
		EmailAddress: email,
		Name:         name,
		Department:   "Physics",
		PasswordHash: "hash",
		Role:         "member",
	})
	require.NoError(t, err, "failed to create account %q", email)
	return user
}

func TestPgChatRepository(t *testing.T) {
	repo := newTestRepository(t)

	ada := createTestAccount(t, repo, "Ada@Campus.edu", "Ada")
	grace := createTestAccount(t, repo, "grace@campus.edu", "Grace")

	t.Run("account round trip", func(t *testing.T) {
		got, err := repo.GetAccountById(ada.Id)
		assert.NoError(t, err)
		assert.Equal(t, "ada@campus.edu", got.EmailAddress, "expected email to be stored lowercase")
		assert.Equal(t, "Ada", got.Name)
		assert.Equal(t, "member", got.Role)

		byEmail, err := repo.GetAccountByEmail("ADA@campus.edu")
		assert.NoError(t, err)
		assert.Equal(t, ada.Id, byEmail.Id, "expected email lookup to be case insensitive")
		assert.Equal(t, "hash", byEmail.PasswordHash, "expected password hash for login")
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		_, err := repo.CreateAccount(CreateAccountParams{
			EmailAddress: "ada@campus.edu",
			Name:         "Imposter",
			PasswordHash: "hash",
			Role:         "member",
		})
		assert.Error(t, err, "expected a unique violation")
	})

	t.Run("update account profile", func(t *testing.T) {
		updated, err := repo.UpdateAccount(UpdateAccountParams{
			AccountId:  ada.Id,
			Name:       "Ada L.",
			Department: "Mathematics",
			AvatarUrl:  "https://cdn.example.com/ada.png",
		})
		assert.NoError(t, err)
		assert.Equal(t, "Ada L.", updated.Name)
		assert.Equal(t, "Mathematics", updated.Department)
		assert.Equal(t, "https://cdn.example.com/ada.png", updated.AvatarUrl)
	})

	t.Run("suspend and unsuspend", func(t *testing.T) {
		assert.NoError(t, repo.SetAccountSuspended(grace.Id, true))
		got, err := repo.GetAccountById(grace.Id)
		assert.NoError(t, err)
		assert.True(t, got.Suspended, "expected account to be suspended")

		assert.NoError(t, repo.SetAccountSuspended(grace.Id, false))
		got, err = repo.GetAccountById(grace.Id)
		assert.NoError(t, err)
		assert.False(t, got.Suspended, "expected account to be unsuspended")
	})

	var directRoom Room

	t.Run("direct room is created once per pair", func(t *testing.T) {
		var created bool
		var err error
		directRoom, created, err = repo.GetOrCreateDirectRoom("direct-1", ada.Id, grace.Id)
		require.NoError(t, err)
		assert.True(t, created, "expected room to be created on first use")
		assert.Equal(t, "direct-1", directRoom.ExternalId)

		// same pair in reverse order resolves to the same room
		again, created, err := repo.GetOrCreateDirectRoom("direct-ignored", grace.Id, ada.Id)
		require.NoError(t, err)
		assert.False(t, created, "expected existing room on second use")
		assert.Equal(t, directRoom.Id, again.Id, "expected the same room for the pair")

		isMember, err := repo.IsParticipant(directRoom.Id, ada.Id)
		assert.NoError(t, err)
		assert.True(t, isMember, "expected creator to be a participant")

		isMember, err = repo.IsParticipant(directRoom.Id, grace.Id)
		assert.NoError(t, err)
		assert.True(t, isMember, "expected target to be a participant")
	})

	t.Run("group room joins on repeat use", func(t *testing.T) {
		alan := createTestAccount(t, repo, "alan@campus.edu", "Alan")

		groupRoom, created, err := repo.GetOrCreateGroupRoom("group-1", "listing-1", "Study Group", ada.Id)
		require.NoError(t, err)
		assert.True(t, created, "expected group room to be created")
		assert.Equal(t, "Study Group", groupRoom.Name)

		same, created, err := repo.GetOrCreateGroupRoom("group-ignored", "listing-1", "Renamed", alan.Id)
		require.NoError(t, err)
		assert.False(t, created, "expected existing room for the listing")
		assert.Equal(t, groupRoom.Id, same.Id)

		full, err := repo.GetRoomWithParticipants(groupRoom.Id)
		require.NoError(t, err)
		assert.Len(t, full.Participants, 2, "expected both users as participants")
	})

	t.Run("messages update the room preview", func(t *testing.T) {
		first, err := repo.CreateMessage(CreateMessageParams{
			ExternalId: uuid.NewString(),
			RoomId:     directRoom.Id,
			SenderId:   ada.Id,
			Content:    "hello grace",
		})
		require.NoError(t, err)
		assert.Equal(t, "Ada L.", first.SenderName, "expected sender name to be resolved")
		assert.False(t, first.CreatedAt.IsZero(), "expected server-assigned timestamp")

		time.Sleep(10 * time.Millisecond)

		second, err := repo.CreateMessage(CreateMessageParams{
			ExternalId: uuid.NewString(),
			RoomId:     directRoom.Id,
			SenderId:   grace.Id,
			Content:    "hi ada",
		})
		require.NoError(t, err)

		room, err := repo.GetRoomByExternalId(directRoom.ExternalId)
		require.NoError(t, err)
		assert.Equal(t, "hi ada", room.LastMessageContent.String, "expected preview to track the newest message")
		assert.Equal(t, int64(grace.Id), room.LastMessageSender.Int64)
		assert.True(t, room.LastMessageAt.Valid, "expected last message timestamp")

		messages, err := repo.GetMessages(directRoom.Id, 1, 0)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, second.ExternalId, messages[0].ExternalId, "expected newest message first")
		assert.Equal(t, first.ExternalId, messages[1].ExternalId)

		page, err := repo.GetMessages(directRoom.Id, 2, 1)
		require.NoError(t, err)
		require.Len(t, page, 1, "expected one message on the second page")
		assert.Equal(t, first.ExternalId, page[0].ExternalId)
	})

	t.Run("rooms are listed newest activity first", func(t *testing.T) {
		rooms, err := repo.ListRoomsForAccount(ada.Id)
		require.NoError(t, err)
		require.Len(t, rooms, 2, "expected both of ada's rooms")
		assert.Equal(t, directRoom.ExternalId, rooms[0].ExternalId, "expected the room with messages first")
		assert.NotEmpty(t, rooms[0].Participants, "expected participants to be loaded")
	})

	t.Run("deactivated rooms disappear from listings", func(t *testing.T) {
		require.NoError(t, repo.DeactivateRoom(directRoom.Id))

		room, err := repo.GetRoomByExternalId(directRoom.ExternalId)
		require.NoError(t, err)
		assert.False(t, room.Active, "expected room to be inactive")

		rooms, err := repo.ListRoomsForAccount(ada.Id)
		require.NoError(t, err)
		assert.Len(t, rooms, 1, "expected the deactivated room to be hidden")
	})

	t.Run("unknown lookups return ErrNoRows", func(t *testing.T) {
		_, err := repo.GetAccountByEmail("nobody@campus.edu")
		assert.ErrorIs(t, err, sql.ErrNoRows)

		_, err = repo.GetRoomByExternalId("nosuchroom")
		assert.ErrorIs(t, err, sql.ErrNoRows)

		_, err = repo.GetRoomWithParticipants(99999)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}
