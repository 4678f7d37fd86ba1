package nasa

import "github.com/sigurn/crc16"

// crcTable is CRC-16/XMODEM: polynomial 0x1021, initial value 0, no reflection.
var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// checksum computes the frame checksum over data.
func checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
