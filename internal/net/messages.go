package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"krait/internal/engine"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrMalformedMessage   = errors.New("malformed message field")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
)

type ReportType int

const (
	OrderAck ReportType = iota
	ExecutionReport
	ErrorReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants.
const (
	BaseMessageHeaderLen        = 2
	NewOrderMessageHeaderLen    = 2 + 1 + 1 + 8 + 8 + 8 + 1 + 1
	CancelOrderMessageHeaderLen = 2 + 8 + 1 + 1
)

// BaseMessage carries the 2-byte type header shared by every message.
type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

// NewOrderMessage wire layout after the type header:
// side(1) orderType(1) price(8) quantity(8) expiry-unix(8, 0 = GTC)
// pairLen(1) traderLen(1) pair trader
type NewOrderMessage struct {
	BaseMessage
	Side      engine.Side
	OrderType engine.OrderType
	Price     int64
	Quantity  int64
	Expiry    time.Time
	Pair      string
	Trader    string
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	if len(msg) < NewOrderMessageHeaderLen-BaseMessageHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}

	m.Side = engine.Side(msg[0])
	if m.Side != engine.Buy && m.Side != engine.Sell {
		return NewOrderMessage{}, fmt.Errorf("%w: side byte %d", ErrMalformedMessage, msg[0])
	}
	m.OrderType = engine.OrderType(msg[1])
	if m.OrderType != engine.LimitOrder && m.OrderType != engine.MarketOrder {
		return NewOrderMessage{}, fmt.Errorf("%w: order type byte %d", ErrMalformedMessage, msg[1])
	}
	m.Price = int64(binary.BigEndian.Uint64(msg[2:10]))
	m.Quantity = int64(binary.BigEndian.Uint64(msg[10:18]))
	if expiry := int64(binary.BigEndian.Uint64(msg[18:26])); expiry != 0 {
		m.Expiry = time.Unix(expiry, 0)
	}
	pairLen := int(msg[26])
	traderLen := int(msg[27])

	if len(msg) < 28+pairLen+traderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m.Pair = string(msg[28 : 28+pairLen])
	m.Trader = string(msg[28+pairLen : 28+pairLen+traderLen])
	return m, nil
}

// Serialize frames the message for the wire; used by the test client.
func (m NewOrderMessage) Serialize() []byte {
	buf := make([]byte, NewOrderMessageHeaderLen+len(m.Pair)+len(m.Trader))
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	buf[2] = byte(m.Side)
	buf[3] = byte(m.OrderType)
	binary.BigEndian.PutUint64(buf[4:12], uint64(m.Price))
	binary.BigEndian.PutUint64(buf[12:20], uint64(m.Quantity))
	if !m.Expiry.IsZero() {
		binary.BigEndian.PutUint64(buf[20:28], uint64(m.Expiry.Unix()))
	}
	buf[28] = uint8(len(m.Pair))
	buf[29] = uint8(len(m.Trader))
	offset := NewOrderMessageHeaderLen
	offset += copy(buf[offset:], m.Pair)
	copy(buf[offset:], m.Trader)
	return buf
}

// CancelOrderMessage wire layout after the type header:
// orderID(8) pairLen(1) traderLen(1) pair trader
type CancelOrderMessage struct {
	BaseMessage
	OrderID uint64
	Pair    string
	Trader  string
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	if len(msg) < CancelOrderMessageHeaderLen-BaseMessageHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}

	m.OrderID = binary.BigEndian.Uint64(msg[0:8])
	pairLen := int(msg[8])
	traderLen := int(msg[9])

	if len(msg) < 10+pairLen+traderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m.Pair = string(msg[10 : 10+pairLen])
	m.Trader = string(msg[10+pairLen : 10+pairLen+traderLen])
	return m, nil
}

// Serialize frames the message for the wire; used by the test client.
func (m CancelOrderMessage) Serialize() []byte {
	buf := make([]byte, CancelOrderMessageHeaderLen+len(m.Pair)+len(m.Trader))
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	binary.BigEndian.PutUint64(buf[2:10], m.OrderID)
	buf[10] = uint8(len(m.Pair))
	buf[11] = uint8(len(m.Trader))
	offset := CancelOrderMessageHeaderLen
	offset += copy(buf[offset:], m.Pair)
	copy(buf[offset:], m.Trader)
	return buf
}

// Report is the server-to-client frame: an order acknowledgment, one
// execution per fill, or an error.
type Report struct {
	Type      ReportType         // 1 byte
	Status    engine.OrderStatus // 1 byte
	Side      engine.Side        // 1 byte
	OrderID   uint64             // 8 bytes
	Price     int64              // 8 bytes
	Quantity  int64              // 8 bytes
	Remaining int64              // 8 bytes
	Timestamp uint64             // 8 bytes
	ErrStrLen uint16             // 2 bytes
	PairLen   uint8              // 1 byte
	Pair      string             // n bytes
	Err       string             // n bytes
}

const reportFixedHeaderLen = 1 + 1 + 1 + 8 + 8 + 8 + 8 + 8 + 2 + 1

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() []byte {
	r.PairLen = uint8(len(r.Pair))
	r.ErrStrLen = uint16(len(r.Err))

	buf := make([]byte, reportFixedHeaderLen+len(r.Pair)+len(r.Err))
	buf[0] = byte(r.Type)
	buf[1] = byte(r.Status)
	buf[2] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[3:11], r.OrderID)
	binary.BigEndian.PutUint64(buf[11:19], uint64(r.Price))
	binary.BigEndian.PutUint64(buf[19:27], uint64(r.Quantity))
	binary.BigEndian.PutUint64(buf[27:35], uint64(r.Remaining))
	binary.BigEndian.PutUint64(buf[35:43], r.Timestamp)
	binary.BigEndian.PutUint16(buf[43:45], r.ErrStrLen)
	buf[45] = r.PairLen

	offset := reportFixedHeaderLen
	offset += copy(buf[offset:], r.Pair)
	copy(buf[offset:], r.Err)
	return buf
}

// ParseReport decodes a server report frame; used by the test client.
func ParseReport(buf []byte) (Report, error) {
	if len(buf) < reportFixedHeaderLen {
		return Report{}, ErrMessageTooShort
	}
	r := Report{
		Type:      ReportType(buf[0]),
		Status:    engine.OrderStatus(buf[1]),
		Side:      engine.Side(buf[2]),
		OrderID:   binary.BigEndian.Uint64(buf[3:11]),
		Price:     int64(binary.BigEndian.Uint64(buf[11:19])),
		Quantity:  int64(binary.BigEndian.Uint64(buf[19:27])),
		Remaining: int64(binary.BigEndian.Uint64(buf[27:35])),
		Timestamp: binary.BigEndian.Uint64(buf[35:43]),
		ErrStrLen: binary.BigEndian.Uint16(buf[43:45]),
		PairLen:   buf[45],
	}
	if len(buf) < reportFixedHeaderLen+int(r.PairLen)+int(r.ErrStrLen) {
		return Report{}, ErrMessageTooShort
	}
	offset := reportFixedHeaderLen
	r.Pair = string(buf[offset : offset+int(r.PairLen)])
	offset += int(r.PairLen)
	r.Err = string(buf[offset : offset+int(r.ErrStrLen)])
	return r, nil
}
