package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeadLen 固定头部长度
	HeadLen = 37
	// MaxBodyLen 受 16 位 length 字段约束
	MaxBodyLen = 1<<16 - 1
	// CurrentVersion 当前协议版本
	CurrentVersion uint16 = 0
)

// Frame 一条完整的协议消息。
// 头部布局（大端）：
//
//	length(2) | type(1) | sender(8) | receiver(8) | timestamp(8) | seq_num(8) | version(2)
//
// 之后紧跟 length 字节的消息体。
type Frame struct {
	Length    uint16
	Type      Type
	Sender    uint64
	Receiver  uint64
	Timestamp uint64
	SeqNum    uint64
	Version   uint16
	Body      []byte
}

// Encode 将消息编码为字节序列，length 字段始终取 len(Body)。
func Encode(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrEncoding)
	}
	if len(f.Body) > MaxBodyLen {
		return nil, fmt.Errorf("%w: body length %d exceeds %d", ErrEncoding, len(f.Body), MaxBodyLen)
	}
	if !f.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(f.Type))
	}

	buf := make([]byte, HeadLen+len(f.Body))
	putHead(buf[:HeadLen], f, uint16(len(f.Body)))
	copy(buf[HeadLen:], f.Body)
	return buf, nil
}

// Decode 从字节序列解析一条消息。
// 只读取 length 指定长度的消息体，多余的尾部字节忽略。
func Decode(b []byte) (*Frame, error) {
	f, err := DecodeHead(b)
	if err != nil {
		return nil, err
	}
	end := HeadLen + int(f.Length)
	if len(b) < end {
		return nil, fmt.Errorf("%w: body truncated, want %d bytes, got %d", ErrDecoding, f.Length, len(b)-HeadLen)
	}
	f.Body = make([]byte, f.Length)
	copy(f.Body, b[HeadLen:end])
	return f, nil
}

// DecodeHead 只解析头部，返回的 Frame 不含 Body。
// 供流式读取时先拿到 length 再读消息体。
func DecodeHead(b []byte) (*Frame, error) {
	if len(b) < HeadLen {
		return nil, fmt.Errorf("%w: short header, got %d bytes", ErrDecoding, len(b))
	}
	typ := Type(b[2])
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, b[2])
	}
	return &Frame{
		Length:    binary.BigEndian.Uint16(b[0:2]),
		Type:      typ,
		Sender:    binary.BigEndian.Uint64(b[3:11]),
		Receiver:  binary.BigEndian.Uint64(b[11:19]),
		Timestamp: binary.BigEndian.Uint64(b[19:27]),
		SeqNum:    binary.BigEndian.Uint64(b[27:35]),
		Version:   binary.BigEndian.Uint16(b[35:37]),
	}, nil
}

// ReadFrame 从流中读取一条完整消息：先读满 37 字节头部，再读满 length 字节消息体。
func ReadFrame(r io.Reader) (*Frame, error) {
	var head [HeadLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short header: %v", ErrDecoding, err)
		}
		return nil, err
	}

	f, err := DecodeHead(head[:])
	if err != nil {
		return nil, err
	}

	f.Body = make([]byte, f.Length)
	if f.Length > 0 {
		if _, err := io.ReadFull(r, f.Body); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: body truncated: %v", ErrDecoding, err)
			}
			return nil, err
		}
	}
	return f, nil
}

// WriteFrame 编码后一次性写入，调用方负责写操作的互斥。
func WriteFrame(w io.Writer, f *Frame) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	for n := 0; n < len(buf); {
		m, err := w.Write(buf[n:])
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}

func putHead(b []byte, f *Frame, length uint16) {
	binary.BigEndian.PutUint16(b[0:2], length)
	b[2] = byte(f.Type)
	binary.BigEndian.PutUint64(b[3:11], f.Sender)
	binary.BigEndian.PutUint64(b[11:19], f.Receiver)
	binary.BigEndian.PutUint64(b[19:27], f.Timestamp)
	binary.BigEndian.PutUint64(b[27:35], f.SeqNum)
	binary.BigEndian.PutUint16(b[35:37], f.Version)
}
