package ingest

import (
	"errors"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestIngestJSON(t *testing.T) {
	d := NewDecoder()

	rec := domain.RawRecord{
		Partition: 2,
		Offset:    17,
		Payload:   []byte(`{"step":5,"type":"TRANSFER","amount":"9950.00","nameOrig":"C100","nameDest":"C200","isSAR":1,"alertID":4412}`),
	}

	ev, err := d.Ingest(rec)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if ev.Step != 5 {
		t.Errorf("Step = %d, want 5", ev.Step)
	}
	if ev.Type != domain.TxTransfer {
		t.Errorf("Type = %s, want TRANSFER", ev.Type)
	}
	if ev.Amount.String() != "9950" {
		t.Errorf("Amount = %s, want 9950", ev.Amount)
	}
	if ev.OriginID != "C100" || ev.DestID != "C200" {
		t.Errorf("parties = %s -> %s", ev.OriginID, ev.DestID)
	}
	if !ev.IsSAR || ev.AlertID != 4412 {
		t.Errorf("SAR annotation lost: isSAR=%v alertID=%d", ev.IsSAR, ev.AlertID)
	}
	if ev.Partition != 2 || ev.Offset != 17 {
		t.Errorf("provenance = (%d,%d), want (2,17)", ev.Partition, ev.Offset)
	}
}

func TestIngestCSVRow(t *testing.T) {
	d := NewDecoder()

	ev, err := d.Ingest(domain.RawRecord{Payload: []byte("12,CASH_OUT,300.50,C1,C2,0,-1")})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if ev.Type != domain.TxCashOut {
		t.Errorf("Type = %s, want CASH_OUT", ev.Type)
	}
	if ev.IsSAR {
		t.Error("IsSAR = true, want false")
	}
	if ev.AlertID != domain.NoAlertID {
		t.Errorf("AlertID = %d, want %d", ev.AlertID, domain.NoAlertID)
	}
}

func TestIngestUnknownTypePasses(t *testing.T) {
	d := NewDecoder()

	ev, err := d.Ingest(domain.RawRecord{Payload: []byte(`{"step":1,"type":"WIRE_V2","amount":"10","nameOrig":"A","nameDest":"B","isSAR":0,"alertID":-1}`)})
	if err != nil {
		t.Fatalf("unknown type must not reject the event: %v", err)
	}
	if ev.Type != domain.TxOther {
		t.Errorf("Type = %s, want OTHER", ev.Type)
	}
}

func TestIngestMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"bad json", `{"step":`},
		{"negative step", `{"step":-1,"type":"TRANSFER","amount":"10","nameOrig":"A","nameDest":"B","isSAR":0,"alertID":-1}`},
		{"bad amount", `{"step":1,"type":"TRANSFER","amount":"ten","nameOrig":"A","nameDest":"B","isSAR":0,"alertID":-1}`},
		{"negative amount", `{"step":1,"type":"TRANSFER","amount":"-5","nameOrig":"A","nameDest":"B","isSAR":0,"alertID":-1}`},
		{"missing party", `{"step":1,"type":"TRANSFER","amount":"10","nameOrig":"","nameDest":"B","isSAR":0,"alertID":-1}`},
		{"short csv", "1,TRANSFER,10,A"},
	}

	d := NewDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Ingest(domain.RawRecord{Partition: 1, Offset: 9, Payload: []byte(tt.payload)})
			if err == nil {
				t.Fatal("Ingest() error = nil, want malformed")
			}
			var malformed *domain.MalformedEventError
			if !errors.As(err, &malformed) {
				t.Fatalf("error type = %T, want *MalformedEventError", err)
			}
			if malformed.Partition != 1 || malformed.Offset != 9 {
				t.Errorf("provenance = (%d,%d), want (1,9)", malformed.Partition, malformed.Offset)
			}
		})
	}

	if got := d.MalformedCount(); got != int64(len(tests)) {
		t.Errorf("MalformedCount() = %d, want %d", got, len(tests))
	}
}
