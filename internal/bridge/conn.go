package bridge

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/dzm2020/mesh/internal/errs"
)

const frameHeaderSize = 4

// encodeFrame [u32 BE 长度][数据]
func encodeFrame(data []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[frameHeaderSize:], data)
	return buf
}

// decodeFrame 从 buf 头部解出一帧，数据不完整时 n 为 0
func decodeFrame(buf []byte, limit int) (data []byte, n int, err error) {
	if len(buf) < frameHeaderSize {
		return nil, 0, nil
	}
	size := int(binary.BigEndian.Uint32(buf))
	if size > limit {
		return nil, 0, errs.ErrBridgeFrameTooLarge
	}
	total := frameHeaderSize + size
	if len(buf) < total {
		return nil, 0, nil
	}
	data = make([]byte, size)
	copy(data, buf[frameHeaderSize:total])
	return data, total, nil
}

// ConnSource 长度前缀分帧的 net.Conn
// 读超时不会丢弃已读到的半帧
type ConnSource struct {
	conn         net.Conn
	limit        int
	writeTimeout time.Duration
	buf          []byte
	tmp          []byte
}

func NewConnSource(conn net.Conn, options ...Option) *ConnSource {
	opts := loadOptions(options...)
	return &ConnSource{
		conn:         conn,
		limit:        opts.MaxFrameSize,
		writeTimeout: opts.WriteTimeout,
		tmp:          make([]byte, 4096),
	}
}

func (s *ConnSource) Read() (Kind, []byte, error) {
	for {
		data, n, err := decodeFrame(s.buf, s.limit)
		if err != nil {
			return 0, nil, err
		}
		if n > 0 {
			s.buf = s.buf[n:]
			return Binary, data, nil
		}
		m, err := s.conn.Read(s.tmp)
		s.buf = append(s.buf, s.tmp[:m]...)
		if err != nil {
			return 0, nil, err
		}
	}
}

// Write 文本和二进制使用同一种帧
func (s *ConnSource) Write(_ Kind, data []byte) error {
	if len(data) > s.limit {
		return errs.ErrBridgeFrameTooLarge
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	_, err := s.conn.Write(encodeFrame(data))
	return err
}

func (s *ConnSource) Close(error) error {
	return s.conn.Close()
}

func (s *ConnSource) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *ConnSource) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}
