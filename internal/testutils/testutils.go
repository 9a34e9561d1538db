// Package testutils builds synthetic capture lines for tests: DLAC
// text payloads wrapped in APDU frames inside a full 432 byte ground
// uplink. The encoders exist only on this side of the tree; the wire
// decoders under internal/level0 never import them.
package testutils

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stationwx/fisb978/internal/dlac"
)

// UplinkPayloadBytes is the fixed ground uplink payload size.
const UplinkPayloadBytes = 432

// BitWriter packs bit fields most significant bit first, the way APDU
// headers are transmitted.
type BitWriter struct {
	bits []byte
}

// Add appends the low n bits of v.
func (w *BitWriter) Add(v, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bits = append(w.bits, byte(v>>uint(i)&1))
	}
}

// Bytes returns the packed bits, zero padded to a byte boundary.
func (w *BitWriter) Bytes() []byte {
	out := make([]byte, (len(w.bits)+7)/8)
	for i, b := range w.bits {
		if b != 0 {
			out[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return out
}

// APDU assembles an unsegmented APDU frame body: header fields in
// transmission order followed by the payload. Month and day are only
// encoded when tOpt is 2.
func APDU(productID, tOpt, month, day, hour, minute int, payload []byte) []byte {
	var w BitWriter
	w.Add(0, 3)
	w.Add(productID, 11)
	w.Add(0, 1)
	w.Add(tOpt, 2)
	if tOpt >= 1 {
		w.Add(month, 4)
		w.Add(day, 5)
	}
	w.Add(hour, 5)
	w.Add(minute, 6)
	return append(w.Bytes(), payload...)
}

// TextAPDU builds a generic text APDU (product 413) carrying s in
// DLAC. It panics on characters outside the DLAC alphabet; test input
// is fixed, so a bad literal should fail loudly.
func TextAPDU(tOpt, month, day, hour, minute int, s string) []byte {
	b, err := dlac.Encode(s)
	if err != nil {
		panic(fmt.Sprintf("testutils: %v", err))
	}
	return APDU(413, tOpt, month, day, hour, minute, b)
}

// Frame prepends the frame type byte so Uplink can build the frame
// header.
func Frame(ftype byte, body []byte) []byte {
	return append([]byte{ftype}, body...)
}

// Uplink wraps frame bodies in a full ground uplink payload and
// returns the capture line. The header encodes a station at 45N 135W,
// app data valid, slot 5, tier 15 (H1); t is the unix receive time.
func Uplink(t float64, frames ...[]byte) string {
	ba := make([]byte, UplinkPayloadBytes)
	ba[0] = 0x40 // raw latitude 0x200000 -> 45.0
	ba[2] = 0x01 // raw longitude 0xA00000 -> -135.0
	ba[3] = 0x40
	ba[6] = 0xA5 // utc coupled, app data valid, slot 5
	ba[7] = 0xF0 // tier 15

	off := 8
	for _, f := range frames {
		ftype := f[0]
		body := f[1:]
		ba[off] = byte(len(body) >> 1)
		ba[off+1] = byte(len(body)&0x01)<<7 | ftype
		copy(ba[off+2:], body)
		off += len(body) + 2
	}

	return fmt.Sprintf("+%s;rs=3;rssi=-6.4;t=%.3f;", hex.EncodeToString(ba), t)
}

// Station is the id the Uplink header decodes to.
const Station = "-135~45"

// WaitForCondition polls until the condition holds or the timeout
// expires.
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
