package pgasync

import (
	"fmt"
	"net"

	"github.com/google/uuid"
)

// ParseUUID converts a textual UUID into its parsed form, suitable for
// binding against a UUID column. Failure reports UUIDValueConvertError.
func ParseUUID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, newUUIDValueConvertError(fmt.Sprintf("parsing UUID %q", s), err)
	}
	return u, nil
}

// ParseMacAddr converts a textual MAC address (colon-, hyphen-, or
// dot-separated, per net.ParseMAC) into a net.HardwareAddr for
// MACADDR/MACADDR8 binding. Failure reports MacAddrConversionError.
func ParseMacAddr(s string) (net.HardwareAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return nil, newMacAddrConversionError(fmt.Sprintf("parsing MAC address %q", s), err)
	}
	return hw, nil
}
