package wire

import (
	"reflect"
	"testing"
)

func TestFaultMessageRoundTrip(t *testing.T) {
	msg := FaultMessage{
		ReportingSite: 2,
		FailedSite:    3,
		Witnessed:     true,
		Survivors:     []uint64{4, 1, 2},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeFaultMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.ReportingSite != msg.ReportingSite || decoded.FailedSite != msg.FailedSite ||
		decoded.Witnessed != msg.Witnessed {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, msg)
	}
	if !reflect.DeepEqual(decoded.Survivors, SortedHsids(msg.Survivors)) {
		t.Fatalf("survivors mismatch: got %v", decoded.Survivors)
	}
}

func TestFaultMessageEncodingIsDeterministic(t *testing.T) {
	a := FaultMessage{ReportingSite: 1, FailedSite: 2, Witnessed: false, Survivors: []uint64{3, 1, 2}}
	b := FaultMessage{ReportingSite: 1, FailedSite: 2, Witnessed: false, Survivors: []uint64{1, 2, 3}}

	encA, err := Encode(a)
	if err != nil {
		t.Fatalf("encode a: %v", err)
	}
	encB, err := Encode(b)
	if err != nil {
		t.Fatalf("encode b: %v", err)
	}

	if !reflect.DeepEqual(encA, encB) {
		t.Fatalf("encodings of the same logical value with different input order diverged")
	}
}

func TestSiteFailureMessageRoundTrip(t *testing.T) {
	msg := SiteFailureMessage{
		Source:     1,
		Survivors:  []uint64{2, 4},
		SafeTxnIDs: map[uint64]int64{3: -5, 5: 42},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeSiteFailureMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Source != msg.Source {
		t.Fatalf("source mismatch: got %d, want %d", decoded.Source, msg.Source)
	}
	if !reflect.DeepEqual(decoded.Survivors, SortedHsids(msg.Survivors)) {
		t.Fatalf("survivors mismatch: got %v", decoded.Survivors)
	}
	if !reflect.DeepEqual(decoded.SafeTxnIDs, msg.SafeTxnIDs) {
		t.Fatalf("safe txn ids mismatch: got %v, want %v", decoded.SafeTxnIDs, msg.SafeTxnIDs)
	}
}

func TestSiteFailureForwardMessageRoundTrip(t *testing.T) {
	msg := SiteFailureForwardMessage{
		Reporter: 7,
		Inner: SiteFailureMessage{
			Source:     1,
			Survivors:  []uint64{2, 3},
			SafeTxnIDs: map[uint64]int64{9: 100},
		},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeSiteFailureForwardMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Reporter != msg.Reporter {
		t.Fatalf("reporter mismatch: got %d, want %d", decoded.Reporter, msg.Reporter)
	}
	if decoded.Inner.Source != msg.Inner.Source {
		t.Fatalf("inner source mismatch")
	}
	if !reflect.DeepEqual(decoded.Inner.SafeTxnIDs, msg.Inner.SafeTxnIDs) {
		t.Fatalf("inner safe txn ids mismatch")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	msg := FaultMessage{ReportingSite: 1, FailedSite: 2, Witnessed: true, Survivors: nil}
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := DecodeFaultMessage(append(encoded, 0xFF)); err == nil {
		t.Fatal("expected error for trailing bytes, got nil")
	}
}
