package att

import (
	"errors"
	"testing"
	"time"
)

func TestRequestTrackerSingleOutstanding(t *testing.T) {
	rt := NewRequestTracker(time.Second)

	respC, err := rt.Start(OpReadRequest, 0x0003)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := rt.Start(OpWriteRequest, 0x0004); err == nil {
		t.Fatal("second request should be refused while one is pending")
	}

	if err := rt.Complete(&ReadResponse{Value: []byte("V1.00")}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	resp := <-respC
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.PDU.(*ReadResponse).Value) != "V1.00" {
		t.Errorf("value = %q", resp.PDU.(*ReadResponse).Value)
	}
	if _, _, _, ok := rt.Pending(); ok {
		t.Error("tracker should be idle")
	}
}

func TestRequestTrackerMismatchedResponse(t *testing.T) {
	rt := NewRequestTracker(time.Second)
	if _, err := rt.Start(OpWriteRequest, 1); err != nil {
		t.Fatal(err)
	}
	if err := rt.Complete(&ReadResponse{}); err == nil {
		t.Error("read response must not complete a write request")
	}
	rt.Cancel()
}

func TestRequestTrackerErrorResponse(t *testing.T) {
	rt := NewRequestTracker(time.Second)
	respC, _ := rt.Start(OpPrepareWriteRequest, 0x10)

	err := rt.Complete(&ErrorResponse{RequestOpcode: OpPrepareWriteRequest, Handle: 0x10, ErrorCode: ErrInvalidOffset})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	resp := <-respC
	if !IsATTError(resp.Error, ErrInvalidOffset) {
		t.Errorf("want invalid offset error, got %v", resp.Error)
	}
}

func TestRequestTrackerTimeout(t *testing.T) {
	rt := NewRequestTracker(20 * time.Millisecond)
	respC, _ := rt.Start(OpReadRequest, 1)

	select {
	case resp := <-respC:
		if resp.Error == nil {
			t.Error("expected timeout error")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// A stale timer must not cancel the next request.
	respC, err := rt.Start(OpReadRequest, 2)
	if err != nil {
		t.Fatalf("Start after timeout: %v", err)
	}
	if err := rt.Complete(&ReadResponse{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp := <-respC; resp.Error != nil {
		t.Errorf("unexpected error: %v", resp.Error)
	}
}

func TestRequestTrackerCancel(t *testing.T) {
	rt := NewRequestTracker(time.Second)
	respC, _ := rt.Start(OpExecuteWriteRequest, 0)
	rt.Cancel()
	if resp := <-respC; !errors.Is(resp.Error, ErrRequestCancelled) {
		t.Errorf("want ErrRequestCancelled, got %v", resp.Error)
	}
}
