package omapi

import "testing"

func TestGenericSetGetStuff(t *testing.T) {
	reg := NewRegistry()
	kind := SetupGeneric(reg)

	var ref Ref
	if status := kind.New(&ref); status != StatusSuccess {
		t.Fatalf("new generic: %v", status)
	}
	defer ref.Release()
	g := ref.Get()

	if status := SetValue(g, nil, "name", NewString("eth0")); status != StatusSuccess {
		t.Fatalf("set name: %v", status)
	}
	if status := SetValue(g, nil, "name", NewString("eth0")); status != StatusUnchanged {
		t.Fatalf("same value: expected unchanged, got %v", status)
	}
	if status := SetValue(g, nil, "handle", NewInt(7)); status != StatusSuccess {
		t.Fatalf("set handle: %v", status)
	}

	d, status := GetValueStr(g, nil, "handle")
	if status != StatusSuccess || d.Int != 7 {
		t.Fatalf("get handle: %v %+v", status, d)
	}
	if _, status := GetValue(g, nil, "missing"); status != StatusNotFound {
		t.Fatalf("missing key: expected not found, got %v", status)
	}

	var rec ValueRecorder
	if status := StuffValues(&rec, nil, g); status != StatusSuccess {
		t.Fatalf("stuff: %v", status)
	}
	if len(rec.Values) != 2 || rec.Values[0].Name != "name" || rec.Values[1].Name != "handle" {
		t.Fatalf("unexpected stuffed values %+v", rec.Values)
	}

	if status := SetValue(g, nil, "handle", nil); status != StatusSuccess {
		t.Fatalf("delete: %v", status)
	}
	if g.(*Generic).Len() != 1 {
		t.Fatalf("expected one key after delete")
	}
}

func TestGenericHoldsObjectValues(t *testing.T) {
	reg := NewRegistry()
	kind := SetupGeneric(reg)

	var outer, held Ref
	kind.New(&outer)
	kind.New(&held)
	target := held.Get()

	if status := SetValue(outer.Get(), nil, "peer", NewObject(target)); status != StatusSuccess {
		t.Fatalf("set object: %v", status)
	}
	if target.objectHeader().Refcount() != 2 {
		t.Fatalf("generic should hold a counted reference")
	}
	held.Release()
	if target.objectHeader().Destroying() {
		t.Fatalf("object destroyed while generic still holds it")
	}
	outer.Release()
	if !target.objectHeader().Destroying() {
		t.Fatalf("destroying the generic should release held objects")
	}
}

func TestHandleTableAssignLookupRemove(t *testing.T) {
	reg := NewRegistry()
	kind := SetupGeneric(reg)
	table := NewHandleTable()

	var ref Ref
	kind.New(&ref)
	obj := ref.Get()

	h, status := table.Assign(obj)
	if status != StatusSuccess || h == 0 {
		t.Fatalf("assign: %v %d", status, h)
	}
	again, status := table.Assign(obj)
	if status != StatusUnchanged || again != h {
		t.Fatalf("reassign should keep handle: %v %d", status, again)
	}

	var found Ref
	if status := table.Lookup(&found, h); status != StatusSuccess || found.Get() != obj {
		t.Fatalf("lookup: %v", status)
	}
	found.Release()

	var viaData Ref
	buf := []byte{byte(h >> 24), byte(h >> 16), byte(h >> 8), byte(h)}
	if status := table.LookupTypedData(&viaData, NewData(buf)); status != StatusSuccess || viaData.Get() != obj {
		t.Fatalf("lookup by data: %v", status)
	}
	viaData.Release()
	if status := table.LookupTypedData(&viaData, NewData([]byte{1, 2})); status != StatusInvalidArgument {
		t.Fatalf("short data: expected invalid argument, got %v", status)
	}

	if status := table.Lookup(&found, h+100); status != StatusNotFound {
		t.Fatalf("unknown handle: expected not found, got %v", status)
	}

	ref.Release()
	if obj.objectHeader().Destroying() {
		t.Fatalf("table reference should keep the object alive")
	}
	if status := table.Remove(h); status != StatusSuccess {
		t.Fatalf("remove: %v", status)
	}
	if !obj.objectHeader().Destroying() {
		t.Fatalf("removing the last reference should destroy")
	}
	if table.Len() != 0 {
		t.Fatalf("table should be empty")
	}
	if got, ok := obj.objectHeader().Handle(); !ok || got != h {
		t.Fatalf("object should keep its handle value")
	}
}
