package binario

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

var ErrLengthOverflow = errors.New("length prefix overflow")

type Writer struct {
	writer    io.Writer
	byteOrder binary.ByteOrder
}

func NewWriter(writer io.Writer, byteOrder binary.ByteOrder) *Writer {
	return &Writer{
		writer:    writer,
		byteOrder: byteOrder,
	}
}

func (w *Writer) WriteUint8(value uint8) error {
	_, err := w.writer.Write([]byte{value})
	return err
}

func (w *Writer) WriteUint32(value uint32) error {
	bf := make([]byte, 4)
	w.byteOrder.PutUint32(bf, value)
	_, err := w.writer.Write(bf)

	return err
}

func (w *Writer) WriteUint64(value uint64) error {
	bf := make([]byte, 8)
	w.byteOrder.PutUint64(bf, value)
	_, err := w.writer.Write(bf)

	return err
}

// WriteFixed writes the value as is, without a length prefix.
func (w *Writer) WriteFixed(value []byte) error {
	_, err := w.writer.Write(value)
	return err
}

func (w *Writer) WriteBytes(value []byte) error {
	if uint64(len(value)) > math.MaxUint32 {
		return ErrLengthOverflow
	}

	if err := w.WriteUint32(uint32(len(value))); err != nil {
		return err
	}

	_, err := w.writer.Write(value)

	return err
}

// WriteShortBytes writes a byte slice prefixed with its 8-bit length.
func (w *Writer) WriteShortBytes(value []byte) error {
	if len(value) > math.MaxUint8 {
		return ErrLengthOverflow
	}

	if err := w.WriteUint8(uint8(len(value))); err != nil {
		return err
	}

	_, err := w.writer.Write(value)

	return err
}
