package l2cap

import (
	"encoding/binary"
	"fmt"
)

// LE signaling command codes
const (
	CodeCommandReject                     = 0x01
	CodeConnectionParameterUpdateRequest  = 0x12
	CodeConnectionParameterUpdateResponse = 0x13
)

// Connection parameter update results
const (
	ConnectionParameterAccepted uint16 = 0x0000
	ConnectionParameterRejected uint16 = 0x0001
)

// ConnectionParameters are the values a peripheral asks the central to apply.
type ConnectionParameters struct {
	IntervalMin uint16 // units of 1.25ms, 6..3200
	IntervalMax uint16 // units of 1.25ms, 6..3200
	Latency     uint16 // connection events the peripheral may skip, 0..499
	Timeout     uint16 // supervision timeout, units of 10ms, 10..3200
}

// PreferredParameters returns the parameters requested right after connect:
// 20ms..40ms interval, no latency, 4s supervision timeout.
func PreferredParameters() ConnectionParameters {
	return ConnectionParameters{
		IntervalMin: 0x10,
		IntervalMax: 0x20,
		Latency:     0,
		Timeout:     400,
	}
}

// Validate checks the ranges from the core specification, including the
// supervision timeout lower bound (1+latency)*interval_max*2.
func (p ConnectionParameters) Validate() error {
	if p.IntervalMin < 6 || p.IntervalMin > 3200 {
		return fmt.Errorf("l2cap: interval min out of range (6-3200): %d", p.IntervalMin)
	}
	if p.IntervalMax < 6 || p.IntervalMax > 3200 {
		return fmt.Errorf("l2cap: interval max out of range (6-3200): %d", p.IntervalMax)
	}
	if p.IntervalMax < p.IntervalMin {
		return fmt.Errorf("l2cap: interval max (%d) must be >= interval min (%d)", p.IntervalMax, p.IntervalMin)
	}
	if p.Latency > 499 {
		return fmt.Errorf("l2cap: latency out of range (0-499): %d", p.Latency)
	}
	if p.Timeout < 10 || p.Timeout > 3200 {
		return fmt.Errorf("l2cap: supervision timeout out of range (10-3200): %d", p.Timeout)
	}

	// interval in 1.25ms units * 2, expressed in 10ms units
	minTimeout := (1 + uint32(p.Latency)) * uint32(p.IntervalMax) * 25 / 100
	if uint32(p.Timeout) <= minTimeout {
		return fmt.Errorf("l2cap: supervision timeout (%d * 10ms) must be > (1+latency)*interval*2 (%d * 10ms)",
			p.Timeout, minTimeout)
	}
	return nil
}

// IntervalMinMs returns the minimum connection interval in milliseconds
func (p ConnectionParameters) IntervalMinMs() float64 {
	return float64(p.IntervalMin) * 1.25
}

// IntervalMaxMs returns the maximum connection interval in milliseconds
func (p ConnectionParameters) IntervalMaxMs() float64 {
	return float64(p.IntervalMax) * 1.25
}

// TimeoutMs returns the supervision timeout in milliseconds
func (p ConnectionParameters) TimeoutMs() uint32 {
	return uint32(p.Timeout) * 10
}

// ConnectionParameterUpdateRequest is sent by the peripheral on the LE signaling channel.
type ConnectionParameterUpdateRequest struct {
	Identifier uint8
	Params     ConnectionParameters
}

// ConnectionParameterUpdateResponse is the central's verdict.
type ConnectionParameterUpdateResponse struct {
	Identifier uint8
	Result     uint16
}

// EncodeConnectionParameterUpdateRequest encodes
// [Code: 1][Identifier: 1][Length: 2][IntervalMin: 2][IntervalMax: 2][Latency: 2][Timeout: 2].
func EncodeConnectionParameterUpdateRequest(req *ConnectionParameterUpdateRequest) ([]byte, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 12)
	buf[0] = CodeConnectionParameterUpdateRequest
	buf[1] = req.Identifier
	binary.LittleEndian.PutUint16(buf[2:4], 8)
	binary.LittleEndian.PutUint16(buf[4:6], req.Params.IntervalMin)
	binary.LittleEndian.PutUint16(buf[6:8], req.Params.IntervalMax)
	binary.LittleEndian.PutUint16(buf[8:10], req.Params.Latency)
	binary.LittleEndian.PutUint16(buf[10:12], req.Params.Timeout)
	return buf, nil
}

// DecodeConnectionParameterUpdateRequest decodes and validates a request.
func DecodeConnectionParameterUpdateRequest(data []byte) (*ConnectionParameterUpdateRequest, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("l2cap: connection parameter update request too short: %d bytes", len(data))
	}
	if data[0] != CodeConnectionParameterUpdateRequest {
		return nil, fmt.Errorf("l2cap: invalid command code: 0x%02X", data[0])
	}
	if length := binary.LittleEndian.Uint16(data[2:4]); length != 8 {
		return nil, fmt.Errorf("l2cap: invalid parameter length: %d", length)
	}

	params := ConnectionParameters{
		IntervalMin: binary.LittleEndian.Uint16(data[4:6]),
		IntervalMax: binary.LittleEndian.Uint16(data[6:8]),
		Latency:     binary.LittleEndian.Uint16(data[8:10]),
		Timeout:     binary.LittleEndian.Uint16(data[10:12]),
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("l2cap: invalid connection parameters: %w", err)
	}

	return &ConnectionParameterUpdateRequest{Identifier: data[1], Params: params}, nil
}

// EncodeConnectionParameterUpdateResponse encodes [Code: 1][Identifier: 1][Length: 2][Result: 2].
func EncodeConnectionParameterUpdateResponse(resp *ConnectionParameterUpdateResponse) []byte {
	buf := make([]byte, 6)
	buf[0] = CodeConnectionParameterUpdateResponse
	buf[1] = resp.Identifier
	binary.LittleEndian.PutUint16(buf[2:4], 2)
	binary.LittleEndian.PutUint16(buf[4:6], resp.Result)
	return buf
}

// DecodeConnectionParameterUpdateResponse decodes a response.
func DecodeConnectionParameterUpdateResponse(data []byte) (*ConnectionParameterUpdateResponse, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("l2cap: connection parameter update response too short: %d bytes", len(data))
	}
	if data[0] != CodeConnectionParameterUpdateResponse {
		return nil, fmt.Errorf("l2cap: invalid command code: 0x%02X", data[0])
	}
	if length := binary.LittleEndian.Uint16(data[2:4]); length != 2 {
		return nil, fmt.Errorf("l2cap: invalid response length: %d", length)
	}

	return &ConnectionParameterUpdateResponse{
		Identifier: data[1],
		Result:     binary.LittleEndian.Uint16(data[4:6]),
	}, nil
}
