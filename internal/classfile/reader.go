// Package classfile reads the static structure of a JVM class file:
// version, names of this/super/interface classes and declared methods.
// No bytecode is interpreted.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const magic = 0xCAFEBABE

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

var (
	ErrBadMagic        = errors.New("classfile: bad magic")
	ErrTruncated       = errors.New("classfile: truncated")
	ErrUnknownConstant = errors.New("classfile: unknown constant pool tag")
	ErrBadIndex        = errors.New("classfile: bad constant pool index")
)

// Method is one entry of the methods table.
type Method struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
}

// ClassFile is the subset of a class file the resolver needs. Class names
// keep the internal '/' form.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  uint16
	ThisClass    string
	SuperClass   string
	Interfaces   []string
	Methods      []Method
}

type cpEntry struct {
	tag  byte
	utf8 string
	ref  uint16
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) u1() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("%w: need 1 byte at offset %d", ErrTruncated, r.pos)
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u2() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, fmt.Errorf("%w: need 2 bytes at offset %d", ErrTruncated, r.pos)
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u4() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("%w: need 4 bytes at offset %d", ErrTruncated, r.pos)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) skip(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d", ErrTruncated, n, r.pos)
	}
	r.pos += n
	return nil
}

// Parse decodes data as a class file.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{buf: data}

	m, err := r.u4()
	if err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadMagic, m)
	}

	cf := &ClassFile{}
	if cf.MinorVersion, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.MajorVersion, err = r.u2(); err != nil {
		return nil, err
	}

	pool, err := readConstantPool(r)
	if err != nil {
		return nil, err
	}

	if cf.AccessFlags, err = r.u2(); err != nil {
		return nil, err
	}

	thisIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if cf.ThisClass, err = className(pool, thisIdx); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}

	superIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if superIdx != 0 {
		if cf.SuperClass, err = className(pool, superIdx); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}

	ifaceCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	cf.Interfaces = make([]string, 0, ifaceCount)
	for i := 0; i < int(ifaceCount); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := className(pool, idx)
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	if _, err := readMembers(r, pool); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	if cf.Methods, err = readMembers(r, pool); err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}

	return cf, nil
}

func readConstantPool(r *reader) ([]cpEntry, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	pool := make([]cpEntry, count)

	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		e := cpEntry{tag: tag}

		switch tag {
		case tagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			start := r.pos
			if err := r.skip(int(n)); err != nil {
				return nil, err
			}
			e.utf8 = string(r.buf[start:r.pos])
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			if e.ref, err = r.u2(); err != nil {
				return nil, err
			}
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			if err := r.skip(4); err != nil {
				return nil, err
			}
		case tagMethodHandle:
			if err := r.skip(3); err != nil {
				return nil, err
			}
		case tagLong, tagDouble:
			if err := r.skip(8); err != nil {
				return nil, err
			}
			pool[i] = e
			// 8-byte constants occupy two pool slots.
			i++
			continue
		default:
			return nil, fmt.Errorf("%w: %d at pool index %d", ErrUnknownConstant, tag, i)
		}
		pool[i] = e
	}
	return pool, nil
}

func readMembers(r *reader, pool []cpEntry) ([]Method, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]Method, 0, count)
	for i := 0; i < int(count); i++ {
		flags, err := r.u2()
		if err != nil {
			return nil, err
		}
		nameIdx, err := r.u2()
		if err != nil {
			return nil, err
		}
		descIdx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := utf8At(pool, nameIdx)
		if err != nil {
			return nil, err
		}
		desc, err := utf8At(pool, descIdx)
		if err != nil {
			return nil, err
		}
		if err := skipAttributes(r); err != nil {
			return nil, err
		}
		out = append(out, Method{AccessFlags: flags, Name: name, Descriptor: desc})
	}
	return out, nil
}

func skipAttributes(r *reader) error {
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if _, err := r.u2(); err != nil {
			return err
		}
		n, err := r.u4()
		if err != nil {
			return err
		}
		if err := r.skip(int(n)); err != nil {
			return err
		}
	}
	return nil
}

func utf8At(pool []cpEntry, idx uint16) (string, error) {
	if idx == 0 || int(idx) >= len(pool) || pool[idx].tag != tagUtf8 {
		return "", fmt.Errorf("%w: %d is not a Utf8 entry", ErrBadIndex, idx)
	}
	return pool[idx].utf8, nil
}

func className(pool []cpEntry, idx uint16) (string, error) {
	if idx == 0 || int(idx) >= len(pool) || pool[idx].tag != tagClass {
		return "", fmt.Errorf("%w: %d is not a Class entry", ErrBadIndex, idx)
	}
	return utf8At(pool, pool[idx].ref)
}
