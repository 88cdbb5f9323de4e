package pgasync

import "testing"

func TestParseUUID(t *testing.T) {
	u, err := ParseUUID("A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11")
	if err != nil {
		t.Fatalf("ParseUUID: %v", err)
	}
	if u.String() != "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11" {
		t.Errorf("u = %v", u)
	}
}

func TestParseUUIDInvalid(t *testing.T) {
	_, err := ParseUUID("not-a-uuid")
	if _, ok := err.(*UUIDValueConvertError); !ok {
		t.Fatalf("err = %v (%T), want *UUIDValueConvertError", err, err)
	}
}

func TestParseMacAddr(t *testing.T) {
	hw, err := ParseMacAddr("08:00:2b:01:02:03")
	if err != nil {
		t.Fatalf("ParseMacAddr: %v", err)
	}
	if len(hw) != 6 {
		t.Errorf("hw = %v", hw)
	}
}

func TestParseMacAddrInvalid(t *testing.T) {
	_, err := ParseMacAddr("zz:zz")
	if _, ok := err.(*MacAddrConversionError); !ok {
		t.Fatalf("err = %v (%T), want *MacAddrConversionError", err, err)
	}
}
