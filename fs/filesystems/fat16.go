package filesystems

import (
	"bytes"
	"encoding/binary"
)

// byte offsets into a FAT16 boot sector
const (
	fatOEMName       = 3
	fatBytesPerSec   = 11
	fatSecPerCluster = 13
	fatTotalSec16    = 19
	fatTotalSec32    = 32
	fatSerial        = 39
	fatLabel         = 43
	fatTypeString    = 54
	fatSignature     = 510

	fatBootSectorSize = 512
)

// FAT16SuperBlock is a view over the first sector of a FAT16 volume.
type FAT16SuperBlock []byte

// Valid checks the boot sector signature and the FAT16 type string.
func (s FAT16SuperBlock) Valid() bool {
	if len(s) < fatBootSectorSize {
		return false
	}
	return s[fatSignature] == 0x55 && s[fatSignature+1] == 0xAA &&
		bytes.HasPrefix(s[fatTypeString:fatTypeString+8], []byte("FAT16"))
}

func (s FAT16SuperBlock) OEMName() string {
	return string(bytes.TrimRight(s[fatOEMName:fatOEMName+8], " \x00"))
}

func (s FAT16SuperBlock) BytesPerSector() uint16 {
	return binary.LittleEndian.Uint16(s[fatBytesPerSec:])
}

func (s FAT16SuperBlock) SectorsPerCluster() uint8 {
	return s[fatSecPerCluster]
}

// TotalSectors uses the 16 bit count, falling back to the 32 bit one when
// the volume is too large for it.
func (s FAT16SuperBlock) TotalSectors() uint32 {
	if n := binary.LittleEndian.Uint16(s[fatTotalSec16:]); n != 0 {
		return uint32(n)
	}
	return binary.LittleEndian.Uint32(s[fatTotalSec32:])
}

func (s FAT16SuperBlock) SerialNumber() uint32 {
	return binary.LittleEndian.Uint32(s[fatSerial:])
}

// Label is the volume label without its space padding.
func (s FAT16SuperBlock) Label() string {
	return string(bytes.TrimRight(s[fatLabel:fatLabel+11], " \x00"))
}
