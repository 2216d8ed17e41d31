package wire_test

import (
	"testing"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/wire"
)

func TestFilterCapabilityHandles(t *testing.T) {
	all := []uint32{0xff000003, 0xff000001, 0xff000005, 0xff000002, 0xff000004}

	got, more := wire.FilterCapabilityHandles(all, 0xff000002, 2)
	want := []uint32{0xff000002, 0xff000003}
	if !equalSlices(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !more {
		t.Error("expected moreData to be true when results are truncated")
	}

	got, more = wire.FilterCapabilityHandles(all, 0xff000002, 10)
	want = []uint32{0xff000002, 0xff000003, 0xff000004, 0xff000005}
	if !equalSlices(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if more {
		t.Error("expected moreData to be false when nothing was dropped")
	}
}

func TestBuildCapabilityHandlesResponse(t *testing.T) {
	buf := wire.BuildCapabilityHandlesResponse(wire.TagNoSessions, []uint32{0xff000001, 0xff000002}, true)
	h, err := wire.ParseHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Code != wire.Success {
		t.Errorf("got code 0x%x, want success", h.Code)
	}
	body := buf[wire.HeaderSize:]
	if body[0] != 1 {
		t.Error("expected moreData byte set")
	}
	if got := wire.GetHandle(body, 5); got != 2 {
		t.Errorf("got count %d, want 2", got)
	}
	if got := wire.GetHandle(body, 9); got != 0xff000001 {
		t.Errorf("got first handle 0x%x, want 0xff000001", got)
	}
}

func equalSlices(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
