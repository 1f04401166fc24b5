package kv_test

import (
	"testing"

	"github.com/royalcat/osmgeo/kv"
)

func testKVS(t *testing.T, m kv.KVS[string, int]) {
	m.Set("a", 1)
	m.Set("b", 2)
	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Fatalf("expected 1; got %d %v", v, ok)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 entries; got %d", m.Len())
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatalf("expected a to be deleted")
	}

	n := 0
	m.Range(func(key string, value int) bool {
		n++
		return true
	})
	if n != 1 {
		t.Fatalf("expected range over 1 entry; got %d", n)
	}

	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("expected empty map; got %d", m.Len())
	}
}

func TestMap(t *testing.T)  { testKVS(t, kv.NewMap[string, int]()) }
func TestXMap(t *testing.T) { testKVS(t, kv.NewXMap[string, int]()) }
func TestXMapPresized(t *testing.T) {
	testKVS(t, kv.NewXMapPresized[string, int](16))
}
