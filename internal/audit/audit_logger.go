package audit

import (
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruralpay/ledger/internal/logger"
)

const (
	EventTransactionCreated = "TRANSACTION_CREATED"
	EventTransactionUpdated = "TRANSACTION_UPDATED"
	EventTransactionDeleted = "TRANSACTION_DELETED"
	EventRefundLinked       = "REFUND_LINKED"
	EventRefundUnlinked     = "REFUND_UNLINKED"
	EventAccountBalanceEdit = "ACCOUNT_BALANCE_EDITED"
	EventError              = "ERROR"
)

type AuditEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	UserID        int64     `json:"user_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	AccountID     string    `json:"account_id,omitempty"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

// AuditLogger writes one JSON line per ledger mutation.
type AuditLogger struct {
	log zerolog.Logger
	now func() time.Time
}

func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		log: logger.NewWithWriter(w).With().Str("component", "audit").Logger(),
		now: time.Now,
	}
}

func (a *AuditLogger) LogTransaction(eventType string, userID, txID, accountID, refAmount int64) {
	a.write(AuditEvent{
		EventType:     eventType,
		UserID:        userID,
		TransactionID: strconv.FormatInt(txID, 10),
		AccountID:     strconv.FormatInt(accountID, 10),
		Amount:        refAmount,
		Status:        "SUCCESS",
	})
}

func (a *AuditLogger) LogRefund(eventType string, userID int64, originalTxID *int64, refundTxID int64) {
	details := map[string]string{"refund_tx_id": strconv.FormatInt(refundTxID, 10)}
	if originalTxID != nil {
		details["original_tx_id"] = strconv.FormatInt(*originalTxID, 10)
	}
	a.write(AuditEvent{
		EventType:     eventType,
		UserID:        userID,
		TransactionID: strconv.FormatInt(refundTxID, 10),
		Status:        "SUCCESS",
		Details:       details,
	})
}

func (a *AuditLogger) LogBalanceEdit(userID, accountID, diff, refDiff int64) {
	a.write(AuditEvent{
		EventType: EventAccountBalanceEdit,
		UserID:    userID,
		AccountID: strconv.FormatInt(accountID, 10),
		Amount:    refDiff,
		Status:    "SUCCESS",
		Details:   map[string]int64{"diff": diff, "ref_diff": refDiff},
	})
}

func (a *AuditLogger) LogError(userID int64, operation string, err error) {
	a.write(AuditEvent{
		EventType: EventError,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"operation": operation, "error": err.Error()},
	})
}

func (a *AuditLogger) write(event AuditEvent) {
	event.Timestamp = a.now().UTC()
	a.log.Info().Interface("audit", event).Msg("AUDIT")
}
