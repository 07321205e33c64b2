package models

import "fmt"

// TransactionType is the direction of a transaction relative to its account.
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

func (t TransactionType) Valid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

// Opposite returns the type of the other leg of a transfer or refund pair.
func (t TransactionType) Opposite() TransactionType {
	if t == TransactionTypeIncome {
		return TransactionTypeExpense
	}
	return TransactionTypeIncome
}

// Sign is +1 for income and -1 for expense.
func (t TransactionType) Sign() int64 {
	if t == TransactionTypeIncome {
		return 1
	}
	return -1
}

// TransferNature tells whether a transaction is a leg of a transfer.
type TransferNature string

const (
	TransferNatureNone        TransferNature = "not_transfer"
	TransferNatureCommon      TransferNature = "common_transfer"
	TransferNatureOutOfWallet TransferNature = "transfer_out_wallet"
)

func (n TransferNature) Valid() bool {
	switch n {
	case TransferNatureNone, TransferNatureCommon, TransferNatureOutOfWallet:
		return true
	}
	return false
}

// IsLinked reports whether the nature requires a sibling transaction.
func (n TransferNature) IsLinked() bool {
	return n == TransferNatureCommon
}

// AccountType distinguishes rows owned by this system from rows imported
// from a third-party feed.
type AccountType string

const (
	AccountTypeSystem   AccountType = "system"
	AccountTypeExternal AccountType = "external"
)

func (a AccountType) Valid() bool {
	return a == AccountTypeSystem || a == AccountTypeExternal
}

func (a AccountType) IsExternal() bool {
	return a == AccountTypeExternal
}

func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}

func ParseTransferNature(s string) (TransferNature, error) {
	n := TransferNature(s)
	if !n.Valid() {
		return "", fmt.Errorf("unknown transfer nature %q", s)
	}
	return n, nil
}

func ParseAccountType(s string) (AccountType, error) {
	a := AccountType(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown account type %q", s)
	}
	return a, nil
}
