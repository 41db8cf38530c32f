package dist

import (
	"encoding/binary"
	"io"

	"github.com/dzm2020/mesh/internal/errs"
)

const (
	// MaxFrameSize 会话建立后单帧上限
	MaxFrameSize = 16 << 20
	// MaxHandshakeSize 握手阶段单帧上限
	MaxHandshakeSize = 4096

	frameHeaderSize = 4
)

// 握手消息
const (
	opName      uint8 = 1
	opChallenge uint8 = 2
	opReply     uint8 = 3
	opAck       uint8 = 4
)

// 会话消息
const (
	OpSend             uint8 = 0x10
	OpRegSend          uint8 = 0x11
	OpSpawnRequest     uint8 = 0x12
	OpSpawnReply       uint8 = 0x13
	OpLink             uint8 = 0x14
	OpUnlink           uint8 = 0x15
	OpExit             uint8 = 0x16
	OpMonitor          uint8 = 0x17
	OpDemonitor        uint8 = 0x18
	OpDown             uint8 = 0x19
	OpPeerList         uint8 = 0x1A
	OpGlobalRegister   uint8 = 0x1B
	OpGlobalUnregister uint8 = 0x1C
	OpGlobalSync       uint8 = 0x1D
	OpBroadcast        uint8 = 0x1E
	OpHeartbeat        uint8 = 0x1F
)

// writeFrame 写出 [u32 LE 长度][u8 op][body]，长度包含 op
func writeFrame(w io.Writer, op uint8, body []byte) error {
	buf := make([]byte, frameHeaderSize+1+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(1+len(body)))
	buf[frameHeaderSize] = op
	copy(buf[frameHeaderSize+1:], body)
	_, err := w.Write(buf)
	return err
}

// readFrame 读一帧，超过 limit 时返回 ErrFrameTooLarge 且不读取帧体
func readFrame(r io.Reader, limit int) (uint8, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	size := binary.LittleEndian.Uint32(header[:])
	if size == 0 {
		return 0, nil, errs.ErrBadFrame(0, io.ErrUnexpectedEOF)
	}
	if int64(size) > int64(limit) {
		return 0, nil, errs.ErrFrameTooLarge
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}
