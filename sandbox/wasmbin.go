package sandbox

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wasm binary section ids and import kinds read by scanDeclarations.
const (
	sectionImport = 2
	sectionTable  = 4
	sectionMemory = 5

	importFunc   = 0x00
	importTable  = 0x01
	importMemory = 0x02
	importGlobal = 0x03
	importTag    = 0x04

	wasmPageSize = 65536
)

var errMalformed = errors.New("malformed wasm binary")

// importDecl is one entry of the import section.
type importDecl struct {
	Module string
	Name   string
	Kind   byte
}

// limitsDecl is a table or memory size declaration. Max is Unbounded when
// the module declares none.
type limitsDecl struct {
	Min uint64
	Max uint64
}

// declarations are the parts of a module the host governs before
// instantiation: what it imports and how large its tables and memories
// start out.
type declarations struct {
	Imports  []importDecl
	Tables   []limitsDecl
	Memories []limitsDecl // in pages
}

// scanDeclarations walks the section headers of a wasm binary and decodes
// the import, table and memory sections. Other sections are skipped.
func scanDeclarations(bin []byte) (*declarations, error) {
	if len(bin) < 8 || string(bin[:4]) != "\x00asm" {
		return nil, fmt.Errorf("%w: missing magic", errMalformed)
	}
	r := &wasmReader{buf: bin, off: 8}
	decls := &declarations{}
	for !r.done() {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, err
		}
		sec := &wasmReader{buf: body}
		switch id {
		case sectionImport:
			err = decls.readImports(sec)
		case sectionTable:
			err = decls.readTables(sec)
		case sectionMemory:
			err = decls.readMemories(sec)
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}
	return decls, nil
}

func (d *declarations) readImports(r *wasmReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for range count {
		module, err := r.name()
		if err != nil {
			return err
		}
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		switch kind {
		case importFunc:
			_, err = r.u32()
		case importTable:
			var lim limitsDecl
			if _, err = r.byte(); err == nil {
				lim, err = r.limits()
			}
			d.Tables = append(d.Tables, lim)
		case importMemory:
			var lim limitsDecl
			lim, err = r.limits()
			d.Memories = append(d.Memories, lim)
		case importGlobal:
			_, err = r.bytes(2)
		case importTag:
			if _, err = r.byte(); err == nil {
				_, err = r.u32()
			}
		default:
			err = fmt.Errorf("%w: import kind 0x%02x", errMalformed, kind)
		}
		if err != nil {
			return err
		}
		d.Imports = append(d.Imports, importDecl{Module: module, Name: name, Kind: kind})
	}
	return nil
}

func (d *declarations) readTables(r *wasmReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for range count {
		if _, err := r.byte(); err != nil { // reftype
			return err
		}
		lim, err := r.limits()
		if err != nil {
			return err
		}
		d.Tables = append(d.Tables, lim)
	}
	return nil
}

func (d *declarations) readMemories(r *wasmReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for range count {
		lim, err := r.limits()
		if err != nil {
			return err
		}
		d.Memories = append(d.Memories, lim)
	}
	return nil
}

type wasmReader struct {
	buf []byte
	off int
}

func (r *wasmReader) done() bool { return r.off >= len(r.buf) }

func (r *wasmReader) byte() (byte, error) {
	if r.done() {
		return 0, fmt.Errorf("%w: unexpected end", errMalformed)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *wasmReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("%w: unexpected end", errMalformed)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *wasmReader) u64() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad leb128", errMalformed)
	}
	r.off += n
	return v, nil
}

func (r *wasmReader) u32() (uint32, error) {
	v, err := r.u64()
	if err != nil {
		return 0, err
	}
	if v > 0xffffffff {
		return 0, fmt.Errorf("%w: u32 out of range", errMalformed)
	}
	return uint32(v), nil
}

func (r *wasmReader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// limits decodes a limits record. Flag bit 0 marks a maximum; the shared
// and 64-bit flag bits do not change the encoding of the values.
func (r *wasmReader) limits() (limitsDecl, error) {
	flags, err := r.byte()
	if err != nil {
		return limitsDecl{}, err
	}
	lim := limitsDecl{Max: Unbounded}
	if lim.Min, err = r.u64(); err != nil {
		return limitsDecl{}, err
	}
	if flags&0x01 != 0 {
		if lim.Max, err = r.u64(); err != nil {
			return limitsDecl{}, err
		}
	}
	return lim, nil
}
