package fpg

import (
	"sort"
)

// Register is a software register declared by a ?register line.
type Register struct {
	Name   string
	Offset uint32 // Byte offset in the board's address space
	Size   uint32 // Bytes
}

// Meta is one ?meta line: a single parameter of a Simulink block.
type Meta struct {
	Device string
	Type   string
	Param  string
	Value  string
}

// Device aggregates the ?meta lines of one block.
type Device struct {
	Name   string
	Type   string
	Params map[string]string
}

// Image is a parsed .fpg file.
type Image struct {
	Path      string
	UploadBin bool // header carried ?uploadbin
	Registers []Register
	Meta      []Meta

	Bitstream []byte // bytes after ?quit
	Raw       []byte // the whole file, as uploaded to the board
}

// Register looks up a register by name.
func (img *Image) Register(name string) (Register, bool) {
	for _, reg := range img.Registers {
		if reg.Name == name {
			return reg, true
		}
	}
	return Register{}, false
}

// RegisterMap returns the registers keyed by name.
func (img *Image) RegisterMap() map[string]Register {
	out := make(map[string]Register, len(img.Registers))
	for _, reg := range img.Registers {
		out[reg.Name] = reg
	}
	return out
}

// Devices groups the metadata by block, sorted by name.
func (img *Image) Devices() []Device {
	byName := make(map[string]*Device)
	for _, m := range img.Meta {
		dev, ok := byName[m.Device]
		if !ok {
			dev = &Device{Name: m.Device, Type: m.Type, Params: make(map[string]string)}
			byName[m.Device] = dev
		}
		dev.Params[m.Param] = m.Value
	}

	out := make([]Device, 0, len(byName))
	for _, dev := range byName {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DevicesOfType returns the blocks whose type matches typ, e.g.
// "xps:snap_adc" or "xps:ten_gbe".
func (img *Image) DevicesOfType(typ string) []Device {
	var out []Device
	for _, dev := range img.Devices() {
		if dev.Type == typ {
			out = append(out, dev)
		}
	}
	return out
}

// Compressed reports whether the bitstream is gzip-compressed.
func (img *Image) Compressed() bool {
	return len(img.Bitstream) >= 2 && img.Bitstream[0] == 0x1f && img.Bitstream[1] == 0x8b
}
