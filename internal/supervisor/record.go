package supervisor

import (
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"google.golang.org/protobuf/encoding/protowire"
)

// 可选字段前的存在标记
const (
	fieldAbsent  byte = 0
	fieldPresent byte = 1
)

// Resolver 根据函数名找到入口
type Resolver func(name string) (actor.EntryFunc, bool)

// EncodeChildSpec 子进程规格的二进制记录
// 可选字段依次以存在标记开头，旧记录在末尾缺失这些字段时按本地子进程处理
func EncodeChildSpec(spec *ChildSpec) []byte {
	b := protowire.AppendString(nil, spec.ID)
	b = protowire.AppendVarint(b, uint64(spec.Restart))
	b = protowire.AppendVarint(b, uint64(spec.Shutdown.Kind))
	b = protowire.AppendVarint(b, uint64(spec.Shutdown.Timeout.Milliseconds()))
	b = protowire.AppendVarint(b, uint64(spec.Type))
	b = protowire.AppendBytes(b, spec.Args)
	b = appendOptional(b, spec.TargetNode)
	b = appendOptional(b, spec.StartFuncName)
	return b
}

func appendOptional(b []byte, v string) []byte {
	if v == "" {
		return append(b, fieldAbsent)
	}
	b = append(b, fieldPresent)
	return protowire.AppendString(b, v)
}

type recordReader struct {
	b   []byte
	err error
}

func (r *recordReader) varint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *recordReader) bytes() []byte {
	if r.err != nil {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *recordReader) optional() string {
	if r.err != nil || len(r.b) == 0 {
		return ""
	}
	flag := r.b[0]
	r.b = r.b[1:]
	if flag == fieldAbsent {
		return ""
	}
	return string(r.bytes())
}

// DecodeChildSpec 解析子进程规格，resolve 用于本地子进程按名字找到入口
func DecodeChildSpec(b []byte, resolve Resolver) (ChildSpec, error) {
	r := &recordReader{b: b}
	spec := ChildSpec{
		ID:      string(r.bytes()),
		Restart: RestartType(r.varint()),
	}
	spec.Shutdown.Kind = ShutdownKind(r.varint())
	spec.Shutdown.Timeout = time.Duration(r.varint()) * time.Millisecond
	spec.Type = ChildType(r.varint())
	if args := r.bytes(); len(args) > 0 {
		spec.Args = append([]byte(nil), args...)
	}
	spec.TargetNode = r.optional()
	spec.StartFuncName = r.optional()
	if r.err != nil {
		return ChildSpec{}, xerror.Wrap(errs.ErrBadRecord, r.err.Error())
	}
	if spec.Restart > Temporary || spec.Shutdown.Kind > BrutalKill || spec.Type > SupervisorChild {
		return ChildSpec{}, xerror.Wrapf(errs.ErrBadRecord, "child %q has invalid enum", spec.ID)
	}
	if !spec.IsRemote() && spec.StartFuncName != "" && resolve != nil {
		if fn, ok := resolve(spec.StartFuncName); ok {
			spec.Start = fn
		}
	}
	return spec, nil
}

// EncodeConfig supervisor 配置的二进制记录，每个子进程记录带长度前缀
func EncodeConfig(cfg *Config) []byte {
	b := protowire.AppendVarint(nil, uint64(cfg.Strategy))
	b = protowire.AppendVarint(b, uint64(cfg.MaxRestarts))
	b = protowire.AppendVarint(b, uint64(cfg.MaxSeconds))
	b = protowire.AppendVarint(b, uint64(len(cfg.Children)))
	for i := range cfg.Children {
		b = protowire.AppendBytes(b, EncodeChildSpec(&cfg.Children[i]))
	}
	return b
}

func DecodeConfig(b []byte, resolve Resolver) (Config, error) {
	r := &recordReader{b: b}
	cfg := Config{
		Strategy:    Strategy(r.varint()),
		MaxRestarts: int(r.varint()),
		MaxSeconds:  int(r.varint()),
	}
	count := r.varint()
	if r.err == nil && count > uint64(len(r.b)) {
		r.err = errs.ErrBadRecord
	}
	if r.err != nil {
		return Config{}, xerror.Wrap(errs.ErrBadRecord, r.err.Error())
	}
	if cfg.Strategy > SimpleOneForOne {
		return Config{}, xerror.Wrapf(errs.ErrBadRecord, "strategy %d", cfg.Strategy)
	}
	cfg.Children = make([]ChildSpec, 0, count)
	for i := uint64(0); i < count; i++ {
		rec := r.bytes()
		if r.err != nil {
			return Config{}, xerror.Wrap(errs.ErrBadRecord, r.err.Error())
		}
		spec, err := DecodeChildSpec(rec, resolve)
		if err != nil {
			return Config{}, err
		}
		cfg.Children = append(cfg.Children, spec)
	}
	return cfg, nil
}
