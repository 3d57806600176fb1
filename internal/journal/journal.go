// Package journal persists the engine's event stream in an append-only
// log keyed by pair and sequence, so the book's history can be replayed
// or audited after a restart.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"krait/internal/engine"
)

var (
	ErrShortRecord   = errors.New("journal record too short")
	ErrTraderTooLong = errors.New("trader id exceeds record length prefix")
)

// Trader ids are stored behind one-byte length prefixes.
const maxTraderLen = 255

// Record layout:
//
//	kind(1) seq(8) time(8) orderID(8) side(1) price(8) qty(8)
//	trade records append: makerID(8) takerID(8) makerFee(8) takerFee(8)
//	                      makerTraderLen(1) makerTrader takerTraderLen(1) takerTrader
const baseRecordLen = 1 + 8 + 8 + 8 + 1 + 8 + 8

type Journal struct {
	db *pebble.DB
}

func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // the journal is the durability story
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal at %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Publish implements engine.Sink. Append failures are logged rather than
// propagated: the book mutation is already committed by the time sinks
// run, and the publish path must not block it.
func (j *Journal) Publish(ev engine.Event) {
	if err := j.Append(ev); err != nil {
		log.Error().
			Err(err).
			Str("pair", ev.Pair).
			Uint64("seq", ev.Sequence).
			Msg("journal append failed")
	}
}

// Append durably writes one event.
func (j *Journal) Append(ev engine.Event) error {
	if ev.Trade != nil {
		if len(ev.Trade.MakerTrader) > maxTraderLen || len(ev.Trade.TakerTrader) > maxTraderLen {
			return fmt.Errorf("%w: maker %d bytes, taker %d bytes",
				ErrTraderTooLong, len(ev.Trade.MakerTrader), len(ev.Trade.TakerTrader))
		}
	}
	return j.db.Set(key(ev.Pair, ev.Sequence), encode(ev), pebble.Sync)
}

// Replay streams a pair's journal in sequence order. fn returning an
// error stops the replay and surfaces it.
func (j *Journal) Replay(pair string, fn func(engine.Event) error) error {
	lower := key(pair, 0)
	upper := append([]byte(pair), 0x01)
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		ev, err := decode(pair, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return iter.Error()
}

func key(pair string, seq uint64) []byte {
	k := make([]byte, len(pair)+1+8)
	copy(k, pair)
	binary.BigEndian.PutUint64(k[len(pair)+1:], seq)
	return k
}

func encode(ev engine.Event) []byte {
	size := baseRecordLen
	if ev.Trade != nil {
		size += 8*4 + 1 + len(ev.Trade.MakerTrader) + 1 + len(ev.Trade.TakerTrader)
	}
	buf := make([]byte, size)
	buf[0] = byte(ev.Kind)
	binary.BigEndian.PutUint64(buf[1:9], ev.Sequence)
	binary.BigEndian.PutUint64(buf[9:17], uint64(ev.Time.UnixNano()))
	binary.BigEndian.PutUint64(buf[17:25], ev.OrderID)
	buf[25] = byte(ev.Side)
	binary.BigEndian.PutUint64(buf[26:34], uint64(ev.Price))
	binary.BigEndian.PutUint64(buf[34:42], uint64(ev.Quantity))

	if ev.Trade != nil {
		t := ev.Trade
		binary.BigEndian.PutUint64(buf[42:50], t.MakerID)
		binary.BigEndian.PutUint64(buf[50:58], t.TakerID)
		binary.BigEndian.PutUint64(buf[58:66], uint64(t.MakerFee))
		binary.BigEndian.PutUint64(buf[66:74], uint64(t.TakerFee))
		off := 74
		buf[off] = uint8(len(t.MakerTrader))
		off++
		off += copy(buf[off:], t.MakerTrader)
		buf[off] = uint8(len(t.TakerTrader))
		off++
		copy(buf[off:], t.TakerTrader)
	}
	return buf
}

func decode(pair string, b []byte) (engine.Event, error) {
	if len(b) < baseRecordLen {
		return engine.Event{}, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	ev := engine.Event{
		Kind:     engine.EventKind(b[0]),
		Sequence: binary.BigEndian.Uint64(b[1:9]),
		Pair:     pair,
		Time:     time.Unix(0, int64(binary.BigEndian.Uint64(b[9:17]))),
		OrderID:  binary.BigEndian.Uint64(b[17:25]),
		Side:     engine.Side(b[25]),
		Price:    int64(binary.BigEndian.Uint64(b[26:34])),
		Quantity: int64(binary.BigEndian.Uint64(b[34:42])),
	}
	if ev.Kind != engine.EventTrade {
		return ev, nil
	}
	if len(b) < baseRecordLen+8*4+2 {
		return engine.Event{}, fmt.Errorf("%w: trade record %d bytes", ErrShortRecord, len(b))
	}
	t := &engine.Trade{
		Sequence: ev.Sequence,
		Pair:     pair,
		MakerID:  binary.BigEndian.Uint64(b[42:50]),
		TakerID:  binary.BigEndian.Uint64(b[50:58]),
		MakerFee: int64(binary.BigEndian.Uint64(b[58:66])),
		TakerFee: int64(binary.BigEndian.Uint64(b[66:74])),
		Price:    ev.Price,
		Quantity: ev.Quantity,
		Time:     ev.Time,
	}
	off := 74
	mlen := int(b[off])
	off++
	if len(b) < off+mlen+1 {
		return engine.Event{}, fmt.Errorf("%w: maker trader truncated", ErrShortRecord)
	}
	t.MakerTrader = string(b[off : off+mlen])
	off += mlen
	tlen := int(b[off])
	off++
	if len(b) < off+tlen {
		return engine.Event{}, fmt.Errorf("%w: taker trader truncated", ErrShortRecord)
	}
	t.TakerTrader = string(b[off : off+tlen])
	ev.Trade = t
	return ev, nil
}
