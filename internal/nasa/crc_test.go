package nasa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumKnownVector(t *testing.T) {
	// CRC-16/XMODEM check value.
	assert.Equal(t, uint16(0x31C3), checksum([]byte("123456789")))
	assert.Equal(t, uint16(0), checksum(nil))
}
