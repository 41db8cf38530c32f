package actor

import (
	"errors"
	"testing"

	"github.com/dzm2020/mesh/internal/errs"
)

func TestHeap_CollectUnreachable(t *testing.T) {
	h := NewHeap(1024)
	root := h.AllocCopy([]byte("root"))
	child := h.Alloc(100)
	garbage := h.Alloc(200)
	if err := h.Link(root, child); err != nil {
		t.Fatalf("Link 失败: %v", err)
	}
	h.Pin(root)

	freed, err := h.Collect()
	if err != nil {
		t.Fatalf("回收失败: %v", err)
	}
	if freed != 200 {
		t.Errorf("应释放 200 字节, 实际 %d", freed)
	}
	if h.Bytes(garbage) != nil {
		t.Error("不可达对象应被回收")
	}
	if string(h.Bytes(root)) != "root" || len(h.Bytes(child)) != 100 {
		t.Error("可达对象被错误回收")
	}
	if h.Objects() != 2 {
		t.Errorf("存活对象数量错误: %d", h.Objects())
	}
}

func TestHeap_UnpinReleases(t *testing.T) {
	h := NewHeap(1024)
	hd := h.Alloc(10)
	h.Pin(hd)
	h.Pin(hd)
	h.Unpin(hd)
	if _, _ = h.Collect(); h.Bytes(hd) == nil {
		t.Fatal("仍有一次 Pin，不应被回收")
	}
	h.Unpin(hd)
	_, _ = h.Collect()
	if h.Bytes(hd) != nil {
		t.Error("全部 Unpin 后应被回收")
	}
}

func TestHeap_FreeSlotReused(t *testing.T) {
	h := NewHeap(1024)
	a := h.Alloc(1)
	_, _ = h.Collect()
	b := h.Alloc(1)
	if a != b {
		t.Errorf("空闲槽位应被复用: %d != %d", a, b)
	}
}

func TestHeap_Cycle(t *testing.T) {
	h := NewHeap(1024)
	a := h.Alloc(8)
	b := h.Alloc(8)
	_ = h.Link(a, b)
	_ = h.Link(b, a)
	if freed, err := h.Collect(); err != nil || freed != 16 {
		t.Errorf("环形垃圾应被整体回收: freed=%d err=%v", freed, err)
	}
}

func TestHeap_ThresholdGrows(t *testing.T) {
	h := NewHeap(100)
	hd := h.Alloc(150)
	h.Pin(hd)
	if !h.ShouldCollect() {
		t.Fatal("超过阈值应触发回收")
	}
	_, _ = h.Collect()
	if h.ShouldCollect() {
		t.Error("回收后阈值应调整为存活字节的两倍")
	}
}

func TestHeap_CorruptedReference(t *testing.T) {
	h := NewHeap(1024)
	a := h.Alloc(1)
	h.Pin(a)
	h.objects[a].refs = append(h.objects[a].refs, Handle(99))
	if _, err := h.Collect(); !errors.Is(err, errs.ErrHeapCorrupted) {
		t.Errorf("应返回 ErrHeapCorrupted, 实际 %v", err)
	}
}
