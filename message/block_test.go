package message

import "testing"

func TestBlockOption(t *testing.T) {
	tests := []struct {
		val  uint32
		opt  BlockOption
		size int
	}{
		{val: 0x00, opt: BlockOption{Num: 0, More: false, SZX: 0}, size: 16},
		{val: 0x01, opt: BlockOption{Num: 0, More: false, SZX: 1}, size: 32},
		{val: 0x09, opt: BlockOption{Num: 0, More: true, SZX: 1}, size: 32},
		{val: 0x19, opt: BlockOption{Num: 1, More: true, SZX: 1}, size: 32},
		{val: 0x1e, opt: BlockOption{Num: 1, More: true, SZX: 6}, size: 1024},
		{val: 0xfff6, opt: BlockOption{Num: 0xfff, More: false, SZX: 6}, size: 1024},
	}
	for i, tt := range tests {
		if got, want := ParseBlockOption(tt.val), tt.opt; got != want {
			t.Errorf("case%d: option: %v != %v", i, got, want)
		}
		if got, want := tt.opt.Value(), tt.val; got != want {
			t.Errorf("case%d: value: %v != %v", i, got, want)
		}
		if got, want := tt.opt.Size(), tt.size; got != want {
			t.Errorf("case%d: size: %v != %v", i, got, want)
		}
	}
}

func TestSizeToSZX(t *testing.T) {
	tests := []struct {
		size int
		szx  uint32
	}{
		{size: 1, szx: 0},
		{size: 16, szx: 0},
		{size: 31, szx: 0},
		{size: 32, szx: 1},
		{size: 100, szx: 2},
		{size: 1024, szx: 6},
		{size: 4096, szx: 6},
	}
	for i, tt := range tests {
		if got, want := SizeToSZX(tt.size), tt.szx; got != want {
			t.Errorf("case%d: %v != %v", i, got, want)
		}
	}
}

func TestMessageBlock(t *testing.T) {
	var m Message
	if _, ok := m.Block2(); ok {
		t.Fatalf("unexpected block2")
	}
	want := BlockOption{Num: 3, More: true, SZX: 2}
	if err := m.SetBlock2(want); err != nil {
		t.Fatalf("set block2: %v", err)
	}
	got, ok := m.Block2()
	if !ok || got != want {
		t.Errorf("block2: got(%v, %v) != want(%v, true)", got, ok, want)
	}
	if got, want := got.Offset(), 3*64; got != want {
		t.Errorf("offset: got(%d) != want(%d)", got, want)
	}
}
