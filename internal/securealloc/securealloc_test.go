package securealloc

import "testing"

func TestNewAndFree(t *testing.T) {
	b, err := New(100)
	if err != nil {
		t.Fatalf("分配失败: %v", err)
	}
	if len(b.Bytes()) < 100 {
		t.Fatalf("分配的缓冲区长度 %d 小于请求的 100", len(b.Bytes()))
	}

	copy(b.Bytes(), []byte("secret-key-material"))
	// Free() nils b.buf, so b.Bytes() would read back an empty slice and the
	// loop below would vacuously pass; keep a reference to the same backing
	// array taken before Free() so we can observe the in-place zeroing.
	underlying := b.Bytes()
	b.Free()

	for i, v := range underlying {
		if v != 0 {
			t.Fatalf("Free 之后第 %d 字节未清零: %x", i, v)
		}
	}
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatalf("应当失败，因为 size 非正")
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	b, err := New(16)
	if err != nil {
		t.Fatalf("分配失败: %v", err)
	}
	b.Free()
	b.Free()
}
