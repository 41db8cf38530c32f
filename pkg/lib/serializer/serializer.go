// Package serializer
// @Description: 统一的编解码入口，Json 用于配置和调试输出，MsgPack 用于进程间负载
package serializer

import (
	"encoding/json"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrMsgPackPack   = errors.New("msgpack打包错误")
	ErrMsgPackUnPack = errors.New("msgpack解析错误")
	ErrJsonPack      = errors.New("json打包错误")
	ErrJsonUnPack    = errors.New("json解析错误")
)

type ISerializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

var (
	Json    ISerializer = jsonCodec{}
	MsgPack ISerializer = msgPackCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, ErrJsonPack
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if data == nil || v == nil {
		return ErrJsonUnPack
	}
	return json.Unmarshal(data, v)
}

type msgPackCodec struct{}

func (msgPackCodec) Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, ErrMsgPackPack
	}
	return msgpack.Marshal(v)
}

func (msgPackCodec) Unmarshal(data []byte, v interface{}) error {
	if v == nil {
		return ErrMsgPackUnPack
	}
	return msgpack.Unmarshal(data, v)
}
