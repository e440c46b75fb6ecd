package fec

import (
	"encoding/binary"
	"hash/crc32"
)

var crc16Table = func() [256]uint16 {
	var t [256]uint16
	for i := range t {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC16 computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// AppendCRC16 appends the big-endian CRC-16 of data.
func AppendCRC16(data []byte) []byte {
	return binary.BigEndian.AppendUint16(data, CRC16(data))
}

// CheckCRC16 verifies a message whose last two bytes carry its CRC-16.
func CheckCRC16(msg []byte) bool {
	if len(msg) < 2 {
		return false
	}
	n := len(msg) - 2
	return CRC16(msg[:n]) == binary.BigEndian.Uint16(msg[n:])
}

// AppendCRC32 appends the big-endian IEEE CRC-32 of data.
func AppendCRC32(data []byte) []byte {
	return binary.BigEndian.AppendUint32(data, crc32.ChecksumIEEE(data))
}

// CheckCRC32 verifies a message whose last four bytes carry its CRC-32.
func CheckCRC32(msg []byte) bool {
	if len(msg) < 4 {
		return false
	}
	n := len(msg) - 4
	return crc32.ChecksumIEEE(msg[:n]) == binary.BigEndian.Uint32(msg[n:])
}
