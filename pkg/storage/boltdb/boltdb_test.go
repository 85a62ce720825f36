package boltdb

import (
	"path"
	"testing"
)

func TestBoltStoreRoundTrip(t *testing.T) {
	dbpath := path.Join(t.TempDir(), "secure.db")
	store, err := New(dbpath)
	if nil != err {
		t.Fatalf("Failed New, got error %v", err)
	}

	if !store.SetString("deviceId", "a1b2c3") {
		t.Fatal("Failed SetString")
	}
	if !store.SetInt("enrolledAt", 1700000000) {
		t.Fatal("Failed SetInt")
	}

	s, found := store.GetString("deviceId")
	if !found || "a1b2c3" != s {
		t.Errorf(`GetString returned ("%s", %t) != ("a1b2c3", true)`, s, found)
	}
	n, found := store.GetInt("enrolledAt")
	if !found || 1700000000 != n {
		t.Errorf("GetInt returned (%d, %t) != (1700000000, true)", n, found)
	}
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	dbpath := path.Join(t.TempDir(), "secure.db")
	store, err := New(dbpath)
	if nil != err {
		t.Fatalf("Failed New, got error %v", err)
	}
	store.SetString("deviceId", "persisted")

	// a second Store on the same file sees the data
	reopened, err := New(dbpath)
	if nil != err {
		t.Fatalf("Failed reopening, got error %v", err)
	}
	s, found := reopened.GetString("deviceId")
	if !found || "persisted" != s {
		t.Errorf(`GetString returned ("%s", %t) != ("persisted", true)`, s, found)
	}
}

func TestBoltStoreKindMismatch(t *testing.T) {
	dbpath := path.Join(t.TempDir(), "secure.db")
	store, err := New(dbpath)
	if nil != err {
		t.Fatalf("Failed New, got error %v", err)
	}

	store.SetInt("key", 42)
	_, found := store.GetString("key")
	if found {
		t.Error("GetString reports found on int value")
	}
}

func TestBoltStoreRemove(t *testing.T) {
	dbpath := path.Join(t.TempDir(), "secure.db")
	store, err := New(dbpath)
	if nil != err {
		t.Fatalf("Failed New, got error %v", err)
	}

	if store.Remove("ghost") {
		t.Error("Remove reports true on missing key")
	}

	store.SetString("key", "value")
	if !store.Remove("key") {
		t.Error("Remove reports false on existing key")
	}
	_, found := store.GetString("key")
	if found {
		t.Error("GetString reports found after Remove")
	}
}
