package contractinfo

import "testing"

func TestPutGet(t *testing.T) {
	c := New()
	c.Put("tx1", Payload{Storage: map[string]string{"k": "v"}})

	p, ok := c.Get("tx1")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if p.Storage["k"] != "v" {
		t.Errorf("Storage[k] = %q, want v", p.Storage["k"])
	}
}

func TestGetMissingIsHardFail(t *testing.T) {
	c := New()
	if _, ok := c.Get("missing"); ok {
		t.Error("expected missing entry to report ok=false")
	}
}

func TestRemoveAllAndClear(t *testing.T) {
	c := New()
	c.Put("tx1", Payload{})
	c.Put("tx2", Payload{})
	c.Put("tx3", Payload{})

	c.RemoveAll([]string{"tx1", "tx2"})
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
}
