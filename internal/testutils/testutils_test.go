package testutils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUplinkShape(t *testing.T) {
	line := Uplink(1620976680.0, Frame(0, TextAPDU(0, 0, 0, 7, 15, "METAR TEST=")))

	require.True(t, strings.HasPrefix(line, "+"))
	semi := strings.IndexByte(line, ';')
	require.Greater(t, semi, 0)
	assert.Equal(t, 2*UplinkPayloadBytes, semi-1, "hex payload length")
	assert.True(t, strings.HasSuffix(line, ";t=1620976680.000;"))
}

func TestBitWriterPacksMSBFirst(t *testing.T) {
	var w BitWriter
	w.Add(0b101, 3)
	w.Add(0b11111, 5)
	assert.Equal(t, []byte{0xBF}, w.Bytes())
}

func TestWaitForCondition(t *testing.T) {
	n := 0
	err := WaitForCondition(func() bool { n++; return n >= 3 }, time.Second)
	assert.NoError(t, err)

	err = WaitForCondition(func() bool { return false }, 50*time.Millisecond)
	assert.Error(t, err)
}
