package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) SetAccountSuspended(accountId int, suspended bool) error {
	args := m.Called(accountId, suspended)
	return args.Error(0)
}
func (m *MockChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomWithParticipants(roomId int) (*Room, error) {
	args := m.Called(roomId)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetOrCreateDirectRoom(externalId string, accountId, targetId int) (Room, bool, error) {
	args := m.Called(externalId, accountId, targetId)
	return args.Get(0).(Room), args.Bool(1), args.Error(2)
}
func (m *MockChatRepository) GetOrCreateGroupRoom(externalId, listingId, name string, joinerId int) (Room, bool, error) {
	args := m.Called(externalId, listingId, name, joinerId)
	return args.Get(0).(Room), args.Bool(1), args.Error(2)
}
func (m *MockChatRepository) IsParticipant(roomId, accountId int) (bool, error) {
	args := m.Called(roomId, accountId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) ListRoomsForAccount(accountId int) ([]Room, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(roomId, page, limit int) ([]Message, error) {
	args := m.Called(roomId, page, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) DeactivateRoom(roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
