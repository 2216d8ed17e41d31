package wire_test

import (
	"testing"

	tpm2 "github.com/canonical/go-tpm2"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

func TestParsePutHeaderRoundTrip(t *testing.T) {
	h := wire.Header{Tag: wire.TagNoSessions, Size: 42, Code: uint32(tpm2.CommandCreatePrimary)}
	buf := make([]byte, wire.HeaderSize)
	wire.PutHeader(buf, h)

	got, err := wire.ParseHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, err := wire.ParseHeader([]byte{0x80, 0x01}); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestGetPutHandle(t *testing.T) {
	buf := make([]byte, 20)
	wire.PutHandle(buf, 10, 0x80000001)
	if got := wire.GetHandle(buf, 10); got != 0x80000001 {
		t.Errorf("got 0x%x, want 0x80000001", got)
	}
}

func TestSynthesizeErrorResponse(t *testing.T) {
	buf := wire.SynthesizeErrorResponse(wire.TagNoSessions, 0x00000284)
	h, err := wire.ParseHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Code != 0x00000284 {
		t.Errorf("got code 0x%x, want 0x284", h.Code)
	}
	if h.Size != wire.HeaderSize {
		t.Errorf("got size %d, want %d", h.Size, wire.HeaderSize)
	}
}

func TestFlushTargetHandle(t *testing.T) {
	buf := make([]byte, wire.HeaderSize+4)
	wire.PutHeader(buf, wire.Header{Tag: wire.TagNoSessions, Size: uint32(len(buf)), Code: uint32(tpm2.CommandFlushContext)})
	wire.PutHandle(buf, wire.HeaderSize, 0x80000002)

	got, err := wire.FlushTargetHandle(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0x80000002 {
		t.Errorf("got 0x%x, want 0x80000002", got)
	}
}
