package sim

import (
	"encoding/binary"
	"fmt"

	"github.com/accelgraph/accelgraph/internal/device"
)

var ptrParam = device.ParamDesc{Size: 8, Align: 8, Pointer: true}
var u32Param = device.ParamDesc{Size: 4, Align: 4}

// ArgPtr decodes a pointer argument slot.
func ArgPtr(args [][]byte, i int) device.Ptr {
	return device.Ptr(binary.LittleEndian.Uint64(args[i]))
}

// ArgU32 decodes a 32-bit scalar argument slot.
func ArgU32(args [][]byte, i int) uint32 {
	return binary.LittleEndian.Uint32(args[i])
}

// EncodePtrArg encodes a pointer into kernel-argument form.
func EncodePtrArg(p device.Ptr) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(p))
	return b
}

// EncodeU32Arg encodes a 32-bit scalar into kernel-argument form.
func EncodeU32Arg(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// registerBuiltins installs the small kernel library every simulated device
// ships with. Tests and the CLI reference these by name.
func registerBuiltins(d *Device) {
	d.RegisterKernel("vec_add_u32", Kernel{
		Params: []device.ParamDesc{ptrParam, ptrParam, ptrParam, u32Param},
		Fn: func(d *Device, _, _ device.Dim3, args [][]byte) error {
			dst, a, b := ArgPtr(args, 0), ArgPtr(args, 1), ArgPtr(args, 2)
			n := uint64(ArgU32(args, 3))
			db, err := d.mem.slice(dst, n*4)
			if err != nil {
				return fmt.Errorf("vec_add_u32 dst: %w", err)
			}
			ab, err := d.mem.slice(a, n*4)
			if err != nil {
				return fmt.Errorf("vec_add_u32 a: %w", err)
			}
			bb, err := d.mem.slice(b, n*4)
			if err != nil {
				return fmt.Errorf("vec_add_u32 b: %w", err)
			}
			for i := uint64(0); i < n; i++ {
				v := binary.LittleEndian.Uint32(ab[i*4:]) + binary.LittleEndian.Uint32(bb[i*4:])
				binary.LittleEndian.PutUint32(db[i*4:], v)
			}
			return nil
		},
	})

	d.RegisterKernel("iota_u32", Kernel{
		Params: []device.ParamDesc{ptrParam, u32Param},
		Fn: func(d *Device, _, _ device.Dim3, args [][]byte) error {
			dst := ArgPtr(args, 0)
			n := uint64(ArgU32(args, 1))
			db, err := d.mem.slice(dst, n*4)
			if err != nil {
				return fmt.Errorf("iota_u32 dst: %w", err)
			}
			for i := uint64(0); i < n; i++ {
				binary.LittleEndian.PutUint32(db[i*4:], uint32(i))
			}
			return nil
		},
	})

	d.RegisterKernel("scale_u32", Kernel{
		Params: []device.ParamDesc{ptrParam, u32Param, u32Param},
		Fn: func(d *Device, _, _ device.Dim3, args [][]byte) error {
			dst := ArgPtr(args, 0)
			factor := ArgU32(args, 1)
			n := uint64(ArgU32(args, 2))
			db, err := d.mem.slice(dst, n*4)
			if err != nil {
				return fmt.Errorf("scale_u32 dst: %w", err)
			}
			for i := uint64(0); i < n; i++ {
				binary.LittleEndian.PutUint32(db[i*4:], binary.LittleEndian.Uint32(db[i*4:])*factor)
			}
			return nil
		},
	})
}
