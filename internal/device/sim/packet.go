package sim

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/accelgraph/accelgraph/internal/device"
)

// Packet opcodes. The layout below is this backend's private ABI; the engine
// only ever moves the encoded bytes around.
const (
	pktKernel byte = iota + 1
	pktCopy
	pktFill
	pktMarker
)

func encodeKernelPacket(name string, grid, block device.Dim3, sharedMem uint32, args [][]byte) (device.Packet, error) {
	var buf bytes.Buffer
	buf.WriteByte(pktKernel)
	writeString(&buf, name)
	writeDim3(&buf, grid)
	writeDim3(&buf, block)
	binary.Write(&buf, binary.LittleEndian, sharedMem)
	binary.Write(&buf, binary.LittleEndian, uint32(len(args)))
	for _, a := range args {
		binary.Write(&buf, binary.LittleEndian, uint32(len(a)))
		buf.Write(a)
	}
	return device.Packet{Name: name, Data: buf.Bytes()}, nil
}

func encodeCopyPacket(dst, src device.Ptr, n uint64, kind device.CopyKind) device.Packet {
	var buf bytes.Buffer
	buf.WriteByte(pktCopy)
	binary.Write(&buf, binary.LittleEndian, uint64(dst))
	binary.Write(&buf, binary.LittleEndian, uint64(src))
	binary.Write(&buf, binary.LittleEndian, n)
	binary.Write(&buf, binary.LittleEndian, int32(kind))
	return device.Packet{Name: "copy_" + kind.String(), Data: buf.Bytes()}
}

func encodeFillPacket(dst device.Ptr, pattern []byte, count uint64) device.Packet {
	var buf bytes.Buffer
	buf.WriteByte(pktFill)
	binary.Write(&buf, binary.LittleEndian, uint64(dst))
	binary.Write(&buf, binary.LittleEndian, count)
	binary.Write(&buf, binary.LittleEndian, uint32(len(pattern)))
	buf.Write(pattern)
	return device.Packet{Name: "fill", Data: buf.Bytes()}
}

func encodeMarkerPacket() device.Packet {
	return device.Packet{Name: "marker", Data: []byte{pktMarker}}
}

// decodePacket turns a captured packet back into an executable op.
func decodePacket(d *Device, pkt device.Packet) (func() error, error) {
	r := bytes.NewReader(pkt.Data)
	opcode, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty packet")
	}
	switch opcode {
	case pktKernel:
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		grid, err := readDim3(r)
		if err != nil {
			return nil, err
		}
		block, err := readDim3(r)
		if err != nil {
			return nil, err
		}
		var sharedMem, nargs uint32
		if err := binary.Read(r, binary.LittleEndian, &sharedMem); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &nargs); err != nil {
			return nil, err
		}
		args := make([][]byte, nargs)
		for i := range args {
			var n uint32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, err
			}
			args[i] = make([]byte, n)
			if _, err := r.Read(args[i]); err != nil {
				return nil, err
			}
		}
		return func() error { return d.dispatchKernel(name, grid, block, args) }, nil

	case pktCopy:
		var dst, src, n uint64
		var kind int32
		if err := binary.Read(r, binary.LittleEndian, &dst); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &src); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
			return nil, err
		}
		return func() error { return d.mem.copyRange(device.Ptr(dst), device.Ptr(src), n) }, nil

	case pktFill:
		var dst, count uint64
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &dst); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		pattern := make([]byte, n)
		if _, err := r.Read(pattern); err != nil {
			return nil, err
		}
		return func() error { return d.mem.fillRange(device.Ptr(dst), pattern, count) }, nil

	case pktMarker:
		return func() error { return nil }, nil
	}
	return nil, fmt.Errorf("unknown opcode %d", opcode)
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeDim3(buf *bytes.Buffer, d device.Dim3) {
	binary.Write(buf, binary.LittleEndian, d.X)
	binary.Write(buf, binary.LittleEndian, d.Y)
	binary.Write(buf, binary.LittleEndian, d.Z)
}

func readDim3(r *bytes.Reader) (device.Dim3, error) {
	var d device.Dim3
	if err := binary.Read(r, binary.LittleEndian, &d.X); err != nil {
		return d, err
	}
	if err := binary.Read(r, binary.LittleEndian, &d.Y); err != nil {
		return d, err
	}
	if err := binary.Read(r, binary.LittleEndian, &d.Z); err != nil {
		return d, err
	}
	return d, nil
}
