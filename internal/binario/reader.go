package binario

import (
	"encoding/binary"
	"io"
)

type Reader struct {
	byteOrder binary.ByteOrder
	reader    io.Reader
}

func NewReader(reader io.Reader, byteOrder binary.ByteOrder) *Reader {
	return &Reader{
		reader:    reader,
		byteOrder: byteOrder,
	}
}

// read returns nil for zero-length reads, so that empty fields decode the same
// way as fields that were never set.
func (r *Reader) read(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}

	bs := make([]byte, n)
	if _, err := io.ReadFull(r.reader, bs); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, err
	}

	return bs, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	bs, err := r.read(1)
	if err != nil {
		return 0, err
	}

	return bs[0], nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	bs, err := r.read(4)
	if err != nil {
		return 0, err
	}

	return r.byteOrder.Uint32(bs), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	bs, err := r.read(8)
	if err != nil {
		return 0, err
	}

	return r.byteOrder.Uint64(bs), nil
}

// ReadFixed reads exactly n bytes.
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	return r.read(n)
}

// ReadBytes reads a byte slice prefixed with its 32-bit length. The length is
// checked against max before anything is allocated.
func (r *Reader) ReadBytes(max int) ([]byte, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}

	if int64(length) > int64(max) {
		return nil, ErrLengthOverflow
	}

	return r.read(int(length))
}

// ReadShortBytes reads a byte slice prefixed with its 8-bit length.
func (r *Reader) ReadShortBytes() ([]byte, error) {
	length, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}

	return r.read(int(length))
}
