package utils

import (
	"testing"
)

func TestRegistrySetGet(t *testing.T) {
	reg := NewRegistry[string, int]()

	err := RegistrySet(reg, "one", 1)
	if nil != err {
		t.Fatalf("Failed RegistrySet, got error %v", err)
	}

	// duplicate name shall be rejected
	err = RegistrySet(reg, "one", 11)
	if nil == err {
		t.Error("Could RegistrySet twice with same name")
	}

	v, found := RegistryGet(reg, "one")
	if !found {
		t.Fatal("RegistryGet reports not found on existing name")
	}
	if 1 != v {
		t.Errorf("RegistryGet returned %d != 1", v)
	}

	_, found = RegistryGet(reg, "two")
	if found {
		t.Error("RegistryGet reports found on missing name")
	}
}

func TestRegistryDel(t *testing.T) {
	reg := NewRegistry[string, string]()

	if RegistryDel(reg, "ghost") {
		t.Error("RegistryDel reports removal of missing name")
	}

	err := RegistrySet(reg, "key", "value")
	if nil != err {
		t.Fatalf("Failed RegistrySet, got error %v", err)
	}
	if !RegistryDel(reg, "key") {
		t.Error("RegistryDel reports not found on existing name")
	}
	_, found := RegistryGet(reg, "key")
	if found {
		t.Error("RegistryGet reports found after RegistryDel")
	}
}

func TestRegistryEntries(t *testing.T) {
	reg := NewRegistry[int, string]()
	for pos, name := range []string{"a", "b", "c"} {
		err := RegistrySet(reg, pos, name)
		if nil != err {
			t.Fatalf("[%d] Failed RegistrySet, got error %v", pos, err)
		}
	}

	entries := RegistryEntries(reg)
	if 3 != len(entries) {
		t.Fatalf("RegistryEntries returned %d entries != 3", len(entries))
	}

	// returned map is a copy, mutating it shall not affect the Registry
	delete(entries, 0)
	_, found := RegistryGet(reg, 0)
	if !found {
		t.Error("mutating RegistryEntries copy affected the Registry")
	}
}
