package filesystems

type FileSystemType uint

const (
	FileSystemUnknown FileSystemType = iota
	FileSystemFAT16
	FileSystemFAT32
	FileSystemExt4
)

func (t FileSystemType) String() string {
	switch t {
	case FileSystemFAT16:
		return "fat16"
	case FileSystemFAT32:
		return "fat32"
	case FileSystemExt4:
		return "ext4"
	default:
		return "unknown"
	}
}

func MBRPartitionTypeToFS(mbr uint8) FileSystemType {
	switch mbr {
	case 0x4, 0x6, 0xe:
		return FileSystemFAT16
	case 0xb, 0xc:
		return FileSystemFAT32
	case 0x83:
		return FileSystemExt4
	default:
		return FileSystemUnknown
	}
}
