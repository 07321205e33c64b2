package services

import (
	"github.com/stretchr/testify/mock"
)

type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) LogTransaction(eventType string, userID, txID, accountID, refAmount int64) {
	m.Called(eventType, userID, txID, accountID, refAmount)
}

func (m *MockAuditLogger) LogRefund(eventType string, userID int64, originalTxID *int64, refundTxID int64) {
	m.Called(eventType, userID, originalTxID, refundTxID)
}

func (m *MockAuditLogger) LogBalanceEdit(userID, accountID, diff, refDiff int64) {
	m.Called(userID, accountID, diff, refDiff)
}

func (m *MockAuditLogger) LogError(userID int64, operation string, err error) {
	m.Called(userID, operation, err)
}

// allowAll accepts any audit call so tests only assert the ones they care about.
func (m *MockAuditLogger) allowAll() *MockAuditLogger {
	m.On("LogTransaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("LogRefund", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("LogBalanceEdit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("LogError", mock.Anything, mock.Anything, mock.Anything).Maybe()
	return m
}
