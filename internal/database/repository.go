package database

type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	SetAccountSuspended(accountId int, suspended bool) error
	GetRoomByExternalId(externalId string) (Room, error)
	GetRoomWithParticipants(roomId int) (*Room, error)
	GetOrCreateDirectRoom(externalId string, accountId, targetId int) (Room, bool, error)
	GetOrCreateGroupRoom(externalId, listingId, name string, joinerId int) (Room, bool, error)
	IsParticipant(roomId, accountId int) (bool, error)
	ListRoomsForAccount(accountId int) ([]Room, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessages(roomId, page, limit int) ([]Message, error)
	DeactivateRoom(roomId int) error
}
