package utils

import "strconv"

// DevInfo describes a device instance handed to a driver's init function.
type DevInfo struct {
	ID      uint32
	Name    string
	Compat  string
	Sectors uint64
	Props   map[string]string
}

func (d *DevInfo) Type() string {
	return d.Compat
}

// Prop returns a driver specific property, or def when it is not set.
func (d *DevInfo) Prop(name string, def string) string {
	if v, ok := d.Props[name]; ok {
		return v
	}
	return def
}

// PropInt returns an integer property, or def when it is missing or malformed.
func (d *DevInfo) PropInt(name string, def int) int {
	v, ok := d.Props[name]
	if !ok {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (d *DevInfo) PropBool(name string) bool {
	b, _ := strconv.ParseBool(d.Props[name])
	return b
}
