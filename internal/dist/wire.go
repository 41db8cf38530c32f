package dist

import (
	"encoding/binary"
	"io"

	"github.com/dzm2020/mesh/internal/actor"
	"google.golang.org/protobuf/encoding/protowire"
)

// nodeTable 跨节点传输 PID 时用来换算 node_id
// 线上的 node_id 只在发送方有意义，接收方按节点名重新定位
type nodeTable interface {
	nameOf(id uint16) (string, bool)
	// idOf 返回节点名在本地的编号，本节点为 0，未见过的名字分配新编号
	idOf(name string) uint16
}

type encoder struct {
	buf []byte
}

func newEncoder(size int) *encoder {
	return &encoder{buf: make([]byte, 0, size)}
}

func (e *encoder) u8(v uint8) *encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *encoder) u16(v uint16) *encoder {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	return e
}

func (e *encoder) u32(v uint32) *encoder {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
	return e
}

func (e *encoder) u64(v uint64) *encoder {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	return e
}

func (e *encoder) flag(v bool) *encoder {
	if v {
		return e.u8(1)
	}
	return e.u8(0)
}

// str [u16 len][bytes]
func (e *encoder) str(s string) *encoder {
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
	return e
}

// raw 原样追加，只能作为最后一个字段
func (e *encoder) raw(b []byte) *encoder {
	e.buf = append(e.buf, b...)
	return e
}

// bytes protobuf wire 长度前缀的字节串
func (e *encoder) bytes(b []byte) *encoder {
	e.buf = protowire.AppendBytes(e.buf, b)
	return e
}

func (e *encoder) reason(r actor.ExitReason) *encoder {
	e.buf = r.AppendTo(e.buf)
	return e
}

// pid [u64][u8 has_node][u16 len][name]?
// 本地 PID 不带节点名，接收方把它归到发送方节点
func (e *encoder) pid(t nodeTable, p actor.PID) *encoder {
	if p.IsLocal() {
		return e.u64(uint64(p)).u8(0)
	}
	name, ok := t.nameOf(p.NodeID())
	if !ok {
		return e.u64(0).u8(0)
	}
	return e.u64(uint64(p)).u8(1).str(name)
}

func (e *encoder) bytesOut() []byte {
	return e.buf
}

// decoder 出错后所有读取返回零值，调用方最后检查 err
type decoder struct {
	buf []byte
	err error
}

func newDecoder(b []byte) *decoder {
	return &decoder{buf: b}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) flag() bool {
	return d.u8() != 0
}

func (d *decoder) str() string {
	n := int(d.u16())
	return string(d.take(n))
}

func (d *decoder) bytes() []byte {
	if d.err != nil {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return nil
	}
	d.buf = d.buf[n:]
	return append([]byte(nil), v...)
}

func (d *decoder) rest() []byte {
	if d.err != nil {
		return nil
	}
	b := d.buf
	d.buf = nil
	return b
}

func (d *decoder) reason() actor.ExitReason {
	if d.err != nil {
		return actor.ExitReason{}
	}
	r, n, err := actor.DecodeExitReason(d.buf)
	if err != nil {
		d.err = err
		return actor.ExitReason{}
	}
	d.buf = d.buf[n:]
	return r
}

// pid 解码 PID，has_node 为 0 时归属 sender 节点
func (d *decoder) pid(t nodeTable, sender uint16) actor.PID {
	raw := actor.PID(d.u64())
	hasNode := d.u8()
	if d.err != nil {
		return 0
	}
	if hasNode == 0 {
		if raw.IsZero() {
			return 0
		}
		return raw.WithNodeID(sender)
	}
	name := d.str()
	if d.err != nil {
		return 0
	}
	return raw.WithNodeID(t.idOf(name))
}

// more 可选尾部字段是否存在
func (d *decoder) more() bool {
	return d.err == nil && len(d.buf) > 0
}
