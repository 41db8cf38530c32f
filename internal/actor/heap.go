package actor

import (
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
)

// DefaultGCThreshold 首次触发回收的字节数
const DefaultGCThreshold = 256 * 1024

// Handle 堆对象句柄，0 表示空
type Handle uint32

type heapObject struct {
	data   []byte
	refs   []Handle
	marked bool
	live   bool
}

// Heap 进程私有堆
// 对象之间通过句柄引用，回收只在所属进程的安全点执行，不需要和其它进程同步
type Heap struct {
	objects   []heapObject
	free      []Handle
	roots     map[Handle]int
	liveBytes int
	base      int
	threshold int

	collections int
	freedBytes  int
}

func NewHeap(threshold int) *Heap {
	if threshold <= 0 {
		threshold = DefaultGCThreshold
	}
	return &Heap{
		objects:   make([]heapObject, 1),
		roots:     make(map[Handle]int),
		base:      threshold,
		threshold: threshold,
	}
}

// Alloc 分配 size 字节的对象
func (h *Heap) Alloc(size int) Handle {
	return h.place(make([]byte, size))
}

// AllocCopy 分配对象并复制 b
func (h *Heap) AllocCopy(b []byte) Handle {
	data := make([]byte, len(b))
	copy(data, b)
	return h.place(data)
}

func (h *Heap) place(data []byte) Handle {
	h.liveBytes += len(data)
	if n := len(h.free); n > 0 {
		hd := h.free[n-1]
		h.free = h.free[:n-1]
		h.objects[hd] = heapObject{data: data, live: true}
		return hd
	}
	h.objects = append(h.objects, heapObject{data: data, live: true})
	return Handle(len(h.objects) - 1)
}

func (h *Heap) valid(hd Handle) bool {
	return hd != 0 && int(hd) < len(h.objects) && h.objects[hd].live
}

// Bytes 返回对象数据，句柄无效时返回 nil
func (h *Heap) Bytes(hd Handle) []byte {
	if !h.valid(hd) {
		return nil
	}
	return h.objects[hd].data
}

// Link 记录 parent 对 child 的引用，回收时 child 随 parent 存活
func (h *Heap) Link(parent, child Handle) error {
	if !h.valid(parent) || !h.valid(child) {
		return errs.ErrInvalidHandle
	}
	h.objects[parent].refs = append(h.objects[parent].refs, child)
	return nil
}

// Unlink 删除一条引用
func (h *Heap) Unlink(parent, child Handle) {
	if !h.valid(parent) {
		return
	}
	refs := h.objects[parent].refs
	for i, r := range refs {
		if r == child {
			h.objects[parent].refs = append(refs[:i], refs[i+1:]...)
			return
		}
	}
}

// Pin 把对象加入根集合，可重复调用，需要同样次数的 Unpin
func (h *Heap) Pin(hd Handle) {
	if h.valid(hd) {
		h.roots[hd]++
	}
}

func (h *Heap) Unpin(hd Handle) {
	if n, ok := h.roots[hd]; ok {
		if n <= 1 {
			delete(h.roots, hd)
		} else {
			h.roots[hd] = n - 1
		}
	}
}

// ShouldCollect 已分配字节数超过阈值
func (h *Heap) ShouldCollect() bool {
	return h.liveBytes >= h.threshold
}

// Collect 从根集合标记，清除不可达对象
// 引用指向不存在的槽位时返回错误，调用方把它当作进程崩溃处理
func (h *Heap) Collect() (int, error) {
	stack := make([]Handle, 0, len(h.roots))
	for hd := range h.roots {
		if !h.valid(hd) {
			return 0, xerror.Wrapf(errs.ErrHeapCorrupted, "root %d", hd)
		}
		stack = append(stack, hd)
	}
	for len(stack) > 0 {
		hd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		obj := &h.objects[hd]
		if obj.marked {
			continue
		}
		obj.marked = true
		for _, ref := range obj.refs {
			if !h.valid(ref) {
				h.clearMarks()
				return 0, xerror.Wrapf(errs.ErrHeapCorrupted, "object %d refers to %d", hd, ref)
			}
			if !h.objects[ref].marked {
				stack = append(stack, ref)
			}
		}
	}

	freed := 0
	for i := 1; i < len(h.objects); i++ {
		obj := &h.objects[i]
		if !obj.live {
			continue
		}
		if obj.marked {
			obj.marked = false
			continue
		}
		freed += len(obj.data)
		*obj = heapObject{}
		h.free = append(h.free, Handle(i))
	}
	h.liveBytes -= freed
	h.freedBytes += freed
	h.collections++
	h.threshold = max(h.base, 2*h.liveBytes)
	return freed, nil
}

func (h *Heap) clearMarks() {
	for i := range h.objects {
		h.objects[i].marked = false
	}
}

// Reset 进程退出时释放整个堆
func (h *Heap) Reset() {
	h.objects = make([]heapObject, 1)
	h.free = nil
	clear(h.roots)
	h.liveBytes = 0
	h.threshold = h.base
}

// Live 当前存活字节数
func (h *Heap) Live() int {
	return h.liveBytes
}

// Objects 当前存活对象数量
func (h *Heap) Objects() int {
	return len(h.objects) - 1 - len(h.free)
}

// Collections 已执行的回收次数
func (h *Heap) Collections() int {
	return h.collections
}
