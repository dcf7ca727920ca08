package wire

import (
	"fmt"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/wire/att"
	"github.com/user/gatts-table/wire/gatt"
	"github.com/user/gatts-table/wire/l2cap"
)

// handleATTPacket serves one ATT PDU from the central. Runs on the event
// loop. AutoRsp attributes are answered here from the database;
// application-owned requests and every prepare write go to the GATTS
// handler with NeedRsp set and are answered by SendResponse.
func (w *Wire) handleATTPacket(c *Connection, raw []byte) {
	pdu, err := att.Decode(raw)
	if err != nil {
		logger.Warn(w.prefix, "❌ Failed to decode ATT packet from %s: %v", shortHash(c.peerID), err)
		if len(raw) > 0 && att.ResponseOpcode(raw[0]) != 0 {
			w.sendError(c, raw[0], 0, att.ErrInvalidPDU)
		} else if len(raw) > 0 && !isCommand(raw[0]) {
			w.sendError(c, raw[0], 0, att.ErrRequestNotSupported)
		}
		return
	}
	w.debugLogger.LogATTPacket("rx", c.peerID, pdu, raw)

	switch p := pdu.(type) {
	case *att.ExchangeMTURequest:
		w.onExchangeMTU(c, p)

	case *att.ReadRequest:
		w.onRead(c, att.OpReadRequest, p.Handle, 0)

	case *att.ReadBlobRequest:
		w.onRead(c, att.OpReadBlobRequest, p.Handle, p.Offset)

	case *att.WriteRequest:
		w.onWrite(c, p.Handle, p.Value, true)

	case *att.WriteCommand:
		w.onWrite(c, p.Handle, p.Value, false)

	case *att.PrepareWriteRequest:
		logger.Debug(w.prefix, "📥 Prepare Write from %s: handle=0x%04X, offset=%d, len=%d",
			shortHash(c.peerID), p.Handle, p.Offset, len(p.Value))
		if status := w.db.CheckWrite(p.Handle, 0, nil); status != att.ErrSuccess {
			w.sendError(c, att.OpPrepareWriteRequest, p.Handle, status)
			return
		}
		gattsIf := w.ownerOf(p.Handle)
		c.notePrepare(gattsIf)
		trans := w.track(c, att.OpPrepareWriteRequest, p.Handle, p.Offset, p.Value)
		w.emitGATTS(stack.WriteEvent{
			GattsIf: gattsIf,
			ConnID:  c.connID,
			TransID: trans,
			BDA:     c.bda,
			Handle:  p.Handle,
			Offset:  p.Offset,
			NeedRsp: true,
			IsPrep:  true,
			Value:   p.Value,
		})

	case *att.ExecuteWriteRequest:
		commit := p.Flags == att.ExecuteWriteCommit
		logger.Debug(w.prefix, "📥 Execute Write from %s: commit=%v", shortHash(c.peerID), commit)
		if err := w.sendATTPacket(c, &att.ExecuteWriteResponse{}); err != nil {
			logger.Warn(w.prefix, "❌ Failed to send Execute Write Response: %v", err)
		}
		w.emitGATTS(stack.ExecWriteEvent{
			GattsIf: c.takePrepare(),
			ConnID:  c.connID,
			TransID: w.newTransID(),
			BDA:     c.bda,
			Commit:  commit,
		})

	case *att.ReadByGroupTypeRequest:
		if !w.checkRange(c, att.OpReadByGroupTypeRequest, p.StartHandle, p.EndHandle) {
			return
		}
		if !gatt.UUID(p.Type).Equal(gatt.UUIDPrimaryService) {
			w.sendError(c, att.OpReadByGroupTypeRequest, p.StartHandle, att.ErrUnsupportedGroupType)
			return
		}
		services := gatt.DiscoverServices(w.db, p.StartHandle, p.EndHandle)
		if len(services) == 0 {
			w.sendError(c, att.OpReadByGroupTypeRequest, p.StartHandle, att.ErrAttributeNotFound)
			return
		}
		resp, err := gatt.BuildReadByGroupTypeResponse(services, int(c.MTU()))
		w.reply(c, att.OpReadByGroupTypeRequest, p.StartHandle, resp, err)

	case *att.ReadByTypeRequest:
		if !w.checkRange(c, att.OpReadByTypeRequest, p.StartHandle, p.EndHandle) {
			return
		}
		entries := gatt.ReadByType(w.db, p.StartHandle, p.EndHandle, gatt.UUID(p.Type))
		if len(entries) == 0 {
			w.sendError(c, att.OpReadByTypeRequest, p.StartHandle, att.ErrAttributeNotFound)
			return
		}
		resp, err := gatt.BuildReadByTypeResponse(entries, int(c.MTU()))
		w.reply(c, att.OpReadByTypeRequest, p.StartHandle, resp, err)

	case *att.FindInformationRequest:
		if !w.checkRange(c, att.OpFindInformationRequest, p.StartHandle, p.EndHandle) {
			return
		}
		entries := gatt.FindInformation(w.db, p.StartHandle, p.EndHandle)
		if len(entries) == 0 {
			w.sendError(c, att.OpFindInformationRequest, p.StartHandle, att.ErrAttributeNotFound)
			return
		}
		resp, err := gatt.BuildFindInformationResponse(entries, int(c.MTU()))
		w.reply(c, att.OpFindInformationRequest, p.StartHandle, resp, err)

	case *att.HandleValueConfirmation:
		gattsIf, handle, ok := c.endIndication()
		if !ok {
			logger.Warn(w.prefix, "⚠️  Confirmation from %s without an indication in flight", shortHash(c.peerID))
			return
		}
		w.emitGATTS(stack.ConfEvent{GattsIf: gattsIf, ConnID: c.connID, Status: stack.StatusOK, Handle: handle})

	default:
		if att.ResponseOpcode(pdu.Opcode()) != 0 {
			w.sendError(c, pdu.Opcode(), 0, att.ErrRequestNotSupported)
			return
		}
		logger.Warn(w.prefix, "⚠️  Unexpected %s from %s", att.OpcodeName(pdu.Opcode()), shortHash(c.peerID))
	}
}

func (w *Wire) onExchangeMTU(c *Connection, p *att.ExchangeMTURequest) {
	local := w.LocalMTU()
	mtu := clampMTU(p.ClientRxMTU, local)
	c.setMTU(mtu)

	logger.Debug(w.prefix, "📥 MTU Request from %s: client_mtu=%d, using %d", shortHash(c.peerID), p.ClientRxMTU, mtu)
	if err := w.sendATTPacket(c, &att.ExchangeMTUResponse{ServerRxMTU: local}); err != nil {
		logger.Warn(w.prefix, "❌ Failed to send MTU response to %s: %v", shortHash(c.peerID), err)
		return
	}
	w.connectionEventLog.LogMTUNegotiated(c.peerID, c.connID, mtu)

	w.mu.RLock()
	apps := w.interfacesLocked()
	w.mu.RUnlock()
	for _, gattsIf := range apps {
		w.emitGATTS(stack.MTUEvent{GattsIf: gattsIf, ConnID: c.connID, MTU: mtu})
	}
}

func (w *Wire) onRead(c *Connection, opcode uint8, handle, offset uint16) {
	if status := w.db.CheckRead(handle); status != att.ErrSuccess {
		w.sendError(c, opcode, handle, status)
		return
	}
	attr, err := w.db.GetAttribute(handle)
	if err != nil {
		w.sendError(c, opcode, handle, att.ErrInvalidHandle)
		return
	}

	ev := stack.ReadEvent{
		GattsIf: w.ownerOf(handle),
		ConnID:  c.connID,
		BDA:     c.bda,
		Handle:  handle,
		Offset:  offset,
		IsLong:  opcode == att.OpReadBlobRequest,
	}
	if attr.Rsp == gatt.RspByApp {
		ev.NeedRsp = true
		ev.TransID = w.track(c, opcode, handle, offset, nil)
		w.emitGATTS(ev)
		return
	}

	if int(offset) > len(attr.Value) {
		w.sendError(c, opcode, handle, att.ErrInvalidOffset)
		return
	}
	value := c.fitRead(attr.Value[offset:])
	var rsp att.PDU = &att.ReadResponse{Value: value}
	if opcode == att.OpReadBlobRequest {
		rsp = &att.ReadBlobResponse{Value: value}
	}
	if err := w.sendATTPacket(c, rsp); err != nil {
		logger.Warn(w.prefix, "❌ Failed to answer %s: %v", att.OpcodeName(opcode), err)
		return
	}
	w.emitGATTS(ev)
}

// onWrite serves Write Request (withRsp) and Write Command. A rejected
// command is dropped silently, as the protocol has no response for it.
func (w *Wire) onWrite(c *Connection, handle uint16, value []byte, withRsp bool) {
	logger.Debug(w.prefix, "📥 Write from %s: handle=0x%04X, len=%d, rsp=%v", shortHash(c.peerID), handle, len(value), withRsp)

	if status := w.db.CheckWrite(handle, 0, value); status != att.ErrSuccess {
		if withRsp {
			w.sendError(c, att.OpWriteRequest, handle, status)
		} else {
			logger.Debug(w.prefix, "write command to 0x%04X dropped: %s", handle, att.ErrorName(status))
		}
		return
	}
	attr, err := w.db.GetAttribute(handle)
	if err != nil {
		return
	}

	ev := stack.WriteEvent{
		GattsIf: w.ownerOf(handle),
		ConnID:  c.connID,
		BDA:     c.bda,
		Handle:  handle,
		Value:   value,
	}
	if attr.Rsp == gatt.RspByApp && withRsp {
		ev.NeedRsp = true
		ev.TransID = w.track(c, att.OpWriteRequest, handle, 0, value)
		w.emitGATTS(ev)
		return
	}

	if attr.Rsp == gatt.AutoRsp {
		if err := w.db.SetAttributeValue(handle, value); err != nil {
			if withRsp {
				w.sendError(c, att.OpWriteRequest, handle, att.CodeOf(err))
			}
			return
		}
	}
	if withRsp {
		if err := w.sendATTPacket(c, &att.WriteResponse{}); err != nil {
			logger.Warn(w.prefix, "❌ Failed to send Write Response: %v", err)
			return
		}
	}
	w.emitGATTS(ev)
}

func (w *Wire) checkRange(c *Connection, opcode uint8, start, end uint16) bool {
	if start == 0 || start > end {
		w.sendError(c, opcode, start, att.ErrInvalidHandle)
		return false
	}
	return true
}

// reply sends a built discovery response, or Unlikely Error if it could
// not be built.
func (w *Wire) reply(c *Connection, opcode uint8, handle uint16, pdu att.PDU, err error) {
	if err != nil {
		logger.Warn(w.prefix, "❌ %s: %v", att.OpcodeName(opcode), err)
		w.sendError(c, opcode, handle, att.ErrUnlikelyError)
		return
	}
	if err := w.sendATTPacket(c, pdu); err != nil {
		logger.Warn(w.prefix, "❌ Failed to answer %s: %v", att.OpcodeName(opcode), err)
	}
}

func (w *Wire) sendError(c *Connection, opcode uint8, handle uint16, code uint8) {
	logger.Debug(w.prefix, "📤 Error Response to %s: %s on 0x%04X: %s",
		shortHash(c.peerID), att.OpcodeName(opcode), handle, att.ErrorName(code))
	err := w.sendATTPacket(c, &att.ErrorResponse{RequestOpcode: opcode, Handle: handle, ErrorCode: code})
	if err != nil {
		logger.Warn(w.prefix, "❌ Failed to send Error Response: %v", err)
	}
}

// sendATTPacket encodes a PDU and sends it on the ATT channel. Apart from
// MTU exchange and error responses, a PDU must fit the negotiated MTU.
func (w *Wire) sendATTPacket(c *Connection, pdu att.PDU) error {
	data, err := att.Encode(pdu)
	if err != nil {
		return fmt.Errorf("failed to encode ATT packet: %w", err)
	}

	switch pdu.(type) {
	case *att.ExchangeMTURequest, *att.ExchangeMTUResponse, *att.ErrorResponse:
	default:
		if mtu := int(c.MTU()); len(data) > mtu {
			return fmt.Errorf("ATT packet exceeds MTU: %d > %d", len(data), mtu)
		}
	}

	w.debugLogger.LogATTPacket("tx", c.peerID, pdu, data)
	return w.sendL2CAPPacket(c, l2cap.NewATTPacket(data))
}

// isCommand reports whether the command flag (bit 6) of an opcode is set.
func isCommand(op uint8) bool {
	return op&0x40 != 0
}
