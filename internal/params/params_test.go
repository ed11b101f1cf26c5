package params

import "testing"

func TestParseAndStringRoundTrip(t *testing.T) {
	m := make(Map)
	m.Set(AttachmentPath, "/blobs/photo.jpg")
	m.SetBool(GuaranteeE2EE, true)
	m.SetFloat(SetLatitude, 51.5074)

	encoded := m.String()
	decoded := Parse(encoded)

	if v, _ := decoded.Get(AttachmentPath); v != "/blobs/photo.jpg" {
		t.Fatalf("got %q", v)
	}
	if !decoded.GetBool(GuaranteeE2EE) {
		t.Fatal("expected guarantee-e2ee true")
	}
	f, ok := decoded.GetFloat(SetLatitude)
	if !ok || f != 51.5074 {
		t.Fatalf("got %v ok=%v", f, ok)
	}
}

func TestSetEmptyStringRemovesKey(t *testing.T) {
	m := make(Map)
	m.Set(AttachmentMime, "image/jpeg")
	m.Set(AttachmentMime, "")
	if _, ok := m.Get(AttachmentMime); ok {
		t.Fatal("expected key removed when set to empty")
	}
}

func TestSetBoolFalseRemovesKey(t *testing.T) {
	m := make(Map)
	m.SetBool(GroupUnpromoted, true)
	m.SetBool(GroupUnpromoted, false)
	if m.GetBool(GroupUnpromoted) {
		t.Fatal("expected false after clearing")
	}
	if _, ok := m.Get(GroupUnpromoted); ok {
		t.Fatal("expected key removed")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := make(Map)
	m.Set(ForwardedOriginals, "42 43")

	c := m.Clone()
	c.Delete(ForwardedOriginals)

	if _, ok := m.Get(ForwardedOriginals); !ok {
		t.Fatal("expected original map untouched by clone mutation")
	}
}

func TestEmptyMapStringIsEmpty(t *testing.T) {
	m := make(Map)
	if m.String() != "" {
		t.Fatalf("expected empty string, got %q", m.String())
	}
	if len(Parse("")) != 0 {
		t.Fatal("expected empty map from empty blob")
	}
}
