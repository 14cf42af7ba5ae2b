// Package ingest normalizes raw broker records into canonical transaction events.
package ingest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// Decoder validates and converts raw records. A malformed record yields a
// *domain.MalformedEventError; the decoder itself never blocks or stalls.
type Decoder struct {
	malformed atomic.Int64
}

// NewDecoder creates a new event decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// rawTx is the JSON payload shape of the transaction feed
// (tx_log: step, type, amount, nameOrig, nameDest, isSAR, alertID).
type rawTx struct {
	Step     json.Number `json:"step"`
	Type     string      `json:"type"`
	Amount   json.Number `json:"amount"`
	NameOrig string      `json:"nameOrig"`
	NameDest string      `json:"nameDest"`
	IsSAR    sarFlag     `json:"isSAR"`
	AlertID  json.Number `json:"alertID"`
}

// sarFlag tolerates both the canonical 0|1 export encoding and JSON booleans
// from live producers.
type sarFlag bool

func (f *sarFlag) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Ingest parses one raw record into an immutable TransactionEvent.
// Payloads may be JSON objects or bare CSV rows in tx_log column order.
func (d *Decoder) Ingest(rec domain.RawRecord) (*domain.TransactionEvent, error) {
	trimmed := bytes.TrimSpace(rec.Payload)
	if len(trimmed) == 0 {
		return nil, d.reject(rec, "empty payload")
	}

	var raw rawTx
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, d.reject(rec, "invalid JSON: "+err.Error())
		}
	} else {
		var err error
		raw, err = parseCSVRow(string(trimmed))
		if err != nil {
			return nil, d.reject(rec, err.Error())
		}
	}

	step, err := strconv.Atoi(raw.Step.String())
	if err != nil || step < 0 {
		return nil, d.reject(rec, "step must be a non-negative integer")
	}

	amount, err := decimal.NewFromString(raw.Amount.String())
	if err != nil {
		return nil, d.reject(rec, "amount does not parse: "+raw.Amount.String())
	}
	if amount.IsNegative() {
		return nil, d.reject(rec, "amount must be non-negative")
	}

	orig := strings.TrimSpace(raw.NameOrig)
	dest := strings.TrimSpace(raw.NameDest)
	if orig == "" || dest == "" {
		return nil, d.reject(rec, "origin and destination ids are required")
	}

	alertID := domain.NoAlertID
	if s := raw.AlertID.String(); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			alertID = v
		}
	}

	return &domain.TransactionEvent{
		Step:      step,
		Type:      domain.ParseTxType(raw.Type),
		Amount:    amount,
		OriginID:  orig,
		DestID:    dest,
		IsSAR:     bool(raw.IsSAR),
		AlertID:   alertID,
		Partition: rec.Partition,
		Offset:    rec.Offset,
	}, nil
}

// MalformedCount returns how many records this decoder has rejected.
func (d *Decoder) MalformedCount() int64 {
	return d.malformed.Load()
}

func (d *Decoder) reject(rec domain.RawRecord, reason string) error {
	d.malformed.Add(1)
	return &domain.MalformedEventError{
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Reason:    reason,
	}
}

// parseCSVRow splits a bare tx_log row: step,type,amount,nameOrig,nameDest,isSAR,alertID.
func parseCSVRow(row string) (rawTx, error) {
	cols := strings.Split(row, ",")
	if len(cols) < 7 {
		return rawTx{}, errColumns(len(cols))
	}
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return rawTx{
		Step:     json.Number(cols[0]),
		Type:     cols[1],
		Amount:   json.Number(cols[2]),
		NameOrig: cols[3],
		NameDest: cols[4],
		IsSAR:    sarFlag(cols[5] == "1"),
		AlertID:  json.Number(cols[6]),
	}, nil
}

type errColumns int

func (e errColumns) Error() string {
	return "expected 7 CSV columns, got " + strconv.Itoa(int(e))
}
