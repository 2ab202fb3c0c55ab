package netprobe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/pion/stun/v3"
)

// maxSoftware is the largest SOFTWARE value servers must accept.
const maxSoftware = 763

var (
	errNotSTUN      = errors.New("not a STUN message")
	errNoMapped     = errors.New("response carries no mapped address")
	errBindingError = errors.New("binding error response")
)

type txID = [stun.TransactionIDSize]byte

func newTxID() txID {
	return stun.NewTransactionID()
}

// buildBindingRequest encodes a binding request. padding bytes are carried
// in a SOFTWARE attribute, which servers ignore, to size the packet.
func buildBindingRequest(id txID, padding int) []byte {
	setters := []stun.Setter{stun.NewTransactionIDSetter(id), stun.BindingRequest}
	if padding > 0 {
		setters = append(setters, stun.NewSoftware(strings.Repeat("x", min(padding, maxSoftware))))
	}
	return stun.MustBuild(setters...).Raw
}

// buildBindingSuccess encodes a success response mapping to addr.
func buildBindingSuccess(id txID, addr netip.AddrPort) []byte {
	return stun.MustBuild(
		stun.NewTransactionIDSetter(id),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: net.IP(addr.Addr().Unmap().AsSlice()), Port: int(addr.Port())},
	).Raw
}

func decode(b []byte) (*stun.Message, error) {
	m := new(stun.Message)
	if err := m.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %w", errNotSTUN, err)
	}
	return m, nil
}

// bindingRequestID returns the transaction of a binding request.
func bindingRequestID(b []byte) (txID, bool) {
	m, err := decode(b)
	if err != nil || m.Type != stun.BindingRequest {
		return txID{}, false
	}
	return m.TransactionID, true
}

// parseBindingResponse extracts the mapped address from a binding success
// response, preferring XOR-MAPPED-ADDRESS.
func parseBindingResponse(b []byte) (txID, netip.AddrPort, error) {
	m, err := decode(b)
	if err != nil {
		return txID{}, netip.AddrPort{}, err
	}
	id := m.TransactionID

	switch m.Type {
	case stun.BindingSuccess:
	case stun.BindingError:
		reason := "unknown"
		var code stun.ErrorCodeAttribute
		if code.GetFrom(m) == nil {
			reason = fmt.Sprintf("%d %s", code.Code, code.Reason)
		}
		return id, netip.AddrPort{}, fmt.Errorf("%w: %s", errBindingError, reason)
	default:
		return id, netip.AddrPort{}, fmt.Errorf("%w: unexpected type %s", errNotSTUN, m.Type)
	}

	var xor stun.XORMappedAddress
	if xor.GetFrom(m) == nil {
		if addr, ok := addrPort(xor.IP, xor.Port); ok {
			return id, addr, nil
		}
	}
	var plain stun.MappedAddress
	if plain.GetFrom(m) == nil {
		if addr, ok := addrPort(plain.IP, plain.Port); ok {
			return id, addr, nil
		}
	}
	return id, netip.AddrPort{}, errNoMapped
}

func addrPort(ip net.IP, port int) (netip.AddrPort, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), true
}
