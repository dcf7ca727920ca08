package l2cap

import (
	"testing"
)

func TestConnectionParametersValidation(t *testing.T) {
	tests := []struct {
		name    string
		params  ConnectionParameters
		wantErr bool
	}{
		{"preferred", PreferredParameters(), false},
		{"fastest", ConnectionParameters{IntervalMin: 6, IntervalMax: 12, Latency: 0, Timeout: 500}, false},
		{"interval min too small", ConnectionParameters{IntervalMin: 5, IntervalMax: 40, Timeout: 600}, true},
		{"interval max too large", ConnectionParameters{IntervalMin: 24, IntervalMax: 3201, Timeout: 600}, true},
		{"max below min", ConnectionParameters{IntervalMin: 40, IntervalMax: 24, Timeout: 600}, true},
		{"latency too large", ConnectionParameters{IntervalMin: 24, IntervalMax: 40, Latency: 500, Timeout: 600}, true},
		{"timeout too small", ConnectionParameters{IntervalMin: 24, IntervalMax: 40, Timeout: 9}, true},
		{"timeout below interval bound", ConnectionParameters{IntervalMin: 800, IntervalMax: 800, Latency: 4, Timeout: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPreferredParametersConversions(t *testing.T) {
	p := PreferredParameters()
	if p.IntervalMinMs() != 20 {
		t.Errorf("IntervalMinMs() = %v, want 20", p.IntervalMinMs())
	}
	if p.IntervalMaxMs() != 40 {
		t.Errorf("IntervalMaxMs() = %v, want 40", p.IntervalMaxMs())
	}
	if p.TimeoutMs() != 4000 {
		t.Errorf("TimeoutMs() = %v, want 4000", p.TimeoutMs())
	}
}

func TestConnectionParameterUpdateRequestEncodeDecode(t *testing.T) {
	req := &ConnectionParameterUpdateRequest{Identifier: 7, Params: PreferredParameters()}

	data, err := EncodeConnectionParameterUpdateRequest(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x12, 0x07, 0x08, 0x00, 0x10, 0x00, 0x20, 0x00, 0x00, 0x00, 0x90, 0x01}
	if string(data) != string(want) {
		t.Errorf("encoded = % x, want % x", data, want)
	}

	decoded, err := DecodeConnectionParameterUpdateRequest(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Identifier != 7 || decoded.Params != req.Params {
		t.Errorf("decoded = %+v, want %+v", decoded, req)
	}
}

func TestConnectionParameterUpdateResponseEncodeDecode(t *testing.T) {
	for _, result := range []uint16{ConnectionParameterAccepted, ConnectionParameterRejected} {
		data := EncodeConnectionParameterUpdateResponse(&ConnectionParameterUpdateResponse{Identifier: 3, Result: result})
		decoded, err := DecodeConnectionParameterUpdateResponse(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if decoded.Identifier != 3 || decoded.Result != result {
			t.Errorf("decoded = %+v, want result %d", decoded, result)
		}
	}
}

func TestEncodeRejectsInvalidParams(t *testing.T) {
	req := &ConnectionParameterUpdateRequest{Params: ConnectionParameters{IntervalMin: 1}}
	if _, err := EncodeConnectionParameterUpdateRequest(req); err == nil {
		t.Error("expected validation error")
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := DecodeConnectionParameterUpdateRequest([]byte{0x12, 0x01}); err == nil {
		t.Error("expected error for short request")
	}
	if _, err := DecodeConnectionParameterUpdateResponse([]byte{0x13}); err == nil {
		t.Error("expected error for short response")
	}
}
