package partition

// CHSAddress is the packed 3 byte cylinder/head/sector address of an MBR entry.
type CHSAddress []byte

func (c CHSAddress) Head() uint8 {
	return c[0]
}

func (c CHSAddress) Sector() uint8 {
	return c[1] & 0x3f
}

func (c CHSAddress) Cylinder() uint16 {
	return uint16(c[1]&0xc0)<<2 | uint16(c[2])
}
