// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"github.com/shopspring/decimal"
)

// TxType is the transaction type of an incoming event.
type TxType string

const (
	TxTransfer TxType = "TRANSFER"
	TxCashOut  TxType = "CASH_OUT"
	TxCashIn   TxType = "CASH_IN"
	TxPayment  TxType = "PAYMENT"
	TxDebit    TxType = "DEBIT"

	// TxOther absorbs unknown types so schema drift in the feed
	// never stalls the pipeline.
	TxOther TxType = "OTHER"
)

// ParseTxType maps a raw type string to a known TxType.
// Unknown values degrade to TxOther rather than rejecting the record.
func ParseTxType(s string) TxType {
	switch TxType(s) {
	case TxTransfer, TxCashOut, TxCashIn, TxPayment, TxDebit:
		return TxType(s)
	default:
		return TxOther
	}
}

// NoAlertID marks a transaction that carries no upstream alert reference.
const NoAlertID int64 = -1

// TransactionEvent is the canonical, immutable form of one transaction.
// It is created by the ingress and never mutated downstream.
//
// The JSON shape matches the tx_log export format field for field:
// step, type, amount, name_orig, name_dest, is_sar (0|1), alert_id (-1 = none).
type TransactionEvent struct {
	Step     int             `json:"step"`
	Type     TxType          `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	OriginID string          `json:"name_orig"`
	DestID   string          `json:"name_dest"`
	IsSAR    bool            `json:"is_sar"`
	AlertID  int64           `json:"alert_id"`

	// Broker position. Offset doubles as the monotonic per-partition
	// sequence number used for replay deduplication.
	Partition int32 `json:"partition"`
	Offset    int64 `json:"offset"`
}

// ObservedAt returns the event's monotonic sequence number within its partition.
func (e *TransactionEvent) ObservedAt() int64 {
	return e.Offset
}

// Counterparty returns the other party of the event relative to entityID.
func (e *TransactionEvent) Counterparty(entityID string) string {
	if e.OriginID == entityID {
		return e.DestID
	}
	return e.OriginID
}

// RawRecord is one record as delivered by the broker consumer.
type RawRecord struct {
	Partition int32
	Offset    int64
	Payload   []byte
}
