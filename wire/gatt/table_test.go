package gatt

import (
	"strings"
	"testing"
)

const (
	testService = "03000001-4202-a882-ec11-b10da4ae3ceb"
	testRX      = "03000002-4202-a882-ec11-b10da4ae3ceb"
	testTX      = "03000003-4202-a882-ec11-b10da4ae3ceb"
)

func TestBuilderHandleLayout(t *testing.T) {
	table := NewBuilder().
		AddService(testService).
		AddCharacteristic(testRX, PropWrite, PropWriteWithoutResponse).
		AddCharacteristic(testTX, PropNotify).
		Build()

	if len(table.Services) != 1 {
		t.Fatalf("Expected 1 service, got %d", len(table.Services))
	}
	svc := table.Services[0]

	rx, tx := svc.Characteristics[0], svc.Characteristics[1]
	if rx.DeclHandle != 2 || rx.ValueHandle != 3 || rx.CCCDHandle != 0 {
		t.Errorf("Expected RX handles 2/3/none, got %d/%d/%d", rx.DeclHandle, rx.ValueHandle, rx.CCCDHandle)
	}
	if tx.DeclHandle != 4 || tx.ValueHandle != 5 || tx.CCCDHandle != 6 {
		t.Errorf("Expected TX handles 4/5/6, got %d/%d/%d", tx.DeclHandle, tx.ValueHandle, tx.CCCDHandle)
	}
	if svc.StartHandle != 1 || svc.EndHandle != 6 {
		t.Errorf("Expected service range 1-6, got %d-%d", svc.StartHandle, svc.EndHandle)
	}
}

func TestTableLookups(t *testing.T) {
	table := NewBuilder().
		AddService(testService).
		AddCharacteristic(testRX, PropWriteWithoutResponse).
		AddCharacteristic(testTX, PropNotify).
		Build()

	c, ok := table.FindCharacteristic(strings.ToUpper(testTX))
	if !ok || c.UUID != testTX {
		t.Fatalf("Expected to find TX by upper-case UUID")
	}
	if got, ok := table.ByValueHandle(c.ValueHandle); !ok || got.UUID != testTX {
		t.Errorf("Expected ByValueHandle to return TX")
	}
	if got, ok := table.ByCCCDHandle(c.CCCDHandle); !ok || got.UUID != testTX {
		t.Errorf("Expected ByCCCDHandle to return TX")
	}
	if _, ok := table.ByCCCDHandle(0); ok {
		t.Error("Expected handle 0 to match nothing")
	}
	if _, ok := table.FindCharacteristic("not-a-uuid"); ok {
		t.Error("Expected invalid UUID to match nothing")
	}
}
