package raknet

import "net/netip"

// Offline message type bytes, RakNet's pre-connection handshake (§6).
const (
	IDUnconnectedPing               = 0x01
	IDUnconnectedPingOpenConnection = 0x02
	IDOpenConnectionRequest1        = 0x05
	IDOpenConnectionReply1          = 0x06
	IDOpenConnectionRequest2        = 0x07
	IDOpenConnectionReply2          = 0x08
	IDConnectionRequest             = 0x09
	IDConnectionRequestAccepted     = 0x10
	IDAlreadyConnected              = 0x12
	IDNewIncomingConnection         = 0x13
	IDDisconnectNotification        = 0x15
	IDIncompatibleProtocolVersion   = 0x19
	IDUnconnectedPong               = 0x1c
	IDGamePacketHeader              = 0xFE
)

// IsOfflineMessageID reports whether id is one of the handshake message
// types the front-end classifies traffic by (§4.10).
func IsOfflineMessageID(id byte) bool {
	switch id {
	case IDUnconnectedPing, IDUnconnectedPingOpenConnection, IDOpenConnectionRequest1,
		IDOpenConnectionReply1, IDOpenConnectionRequest2, IDOpenConnectionReply2,
		IDConnectionRequest, IDConnectionRequestAccepted, IDAlreadyConnected,
		IDNewIncomingConnection, IDDisconnectNotification, IDIncompatibleProtocolVersion,
		IDUnconnectedPong:
		return true
	default:
		return false
	}
}

func expectID(r *Reader, want byte) error {
	got, err := r.Uint8()
	if err != nil {
		return wireErr("read message id", err)
	}
	if got != want {
		return wireErrf("read message id", "expected message id 0x%02x, got 0x%02x", want, got)
	}
	return nil
}

// UnconnectedPing is sent by a client probing for a server's presence.
type UnconnectedPing struct {
	Timestamp  int64
	ClientGUID uint64
}

func (m UnconnectedPing) Encode() []byte {
	w := NewWriter()
	w.Uint8(IDUnconnectedPing)
	w.Int64(m.Timestamp)
	w.Magic()
	w.Uint64(m.ClientGUID)
	return w.Bytes()
}

func DecodeUnconnectedPing(data []byte) (UnconnectedPing, error) {
	r := NewReader(data)
	if err := expectID(r, IDUnconnectedPing); err != nil {
		return UnconnectedPing{}, err
	}
	ts, err := r.Int64()
	if err != nil {
		return UnconnectedPing{}, wireErr("decode unconnected ping", err)
	}
	if err := r.Magic(); err != nil {
		return UnconnectedPing{}, err
	}
	guid, err := r.Uint64()
	if err != nil {
		return UnconnectedPing{}, wireErr("decode unconnected ping", err)
	}
	return UnconnectedPing{Timestamp: ts, ClientGUID: guid}, nil
}

// UnconnectedPong answers an UnconnectedPing, carrying the MOTD payload
// string.
type UnconnectedPong struct {
	Timestamp  int64
	ServerGUID uint64
	Data       string
}

func (m UnconnectedPong) Encode() []byte {
	w := NewWriter()
	w.Uint8(IDUnconnectedPong)
	w.Int64(m.Timestamp)
	w.Uint64(m.ServerGUID)
	w.Magic()
	w.String(m.Data)
	return w.Bytes()
}

func DecodeUnconnectedPong(data []byte) (UnconnectedPong, error) {
	r := NewReader(data)
	if err := expectID(r, IDUnconnectedPong); err != nil {
		return UnconnectedPong{}, err
	}
	ts, err := r.Int64()
	if err != nil {
		return UnconnectedPong{}, wireErr("decode unconnected pong", err)
	}
	guid, err := r.Uint64()
	if err != nil {
		return UnconnectedPong{}, wireErr("decode unconnected pong", err)
	}
	if err := r.Magic(); err != nil {
		return UnconnectedPong{}, err
	}
	data2, err := r.String()
	if err != nil {
		return UnconnectedPong{}, wireErr("decode unconnected pong", err)
	}
	return UnconnectedPong{Timestamp: ts, ServerGUID: guid, Data: data2}, nil
}

// OpenConnectionRequest1 opens the handshake and negotiates an MTU by
// padding the datagram out to the client's desired size.
type OpenConnectionRequest1 struct {
	ProtocolVersion byte
	MTUSize         uint16
}

func (m OpenConnectionRequest1) Encode() []byte {
	w := NewWriter()
	w.Uint8(IDOpenConnectionRequest1)
	w.Magic()
	w.Uint8(m.ProtocolVersion)
	pad := int(m.MTUSize) - len(w.Bytes())
	if pad < 0 {
		pad = 0
	}
	w.Raw(make([]byte, pad))
	return w.Bytes()
}

func DecodeOpenConnectionRequest1(data []byte) (OpenConnectionRequest1, error) {
	r := NewReader(data)
	if err := expectID(r, IDOpenConnectionRequest1); err != nil {
		return OpenConnectionRequest1{}, err
	}
	if err := r.Magic(); err != nil {
		return OpenConnectionRequest1{}, err
	}
	proto, err := r.Uint8()
	if err != nil {
		return OpenConnectionRequest1{}, wireErr("decode open connection request 1", err)
	}
	return OpenConnectionRequest1{ProtocolVersion: proto, MTUSize: uint16(len(data))}, nil
}

// OpenConnectionReply1 answers request 1 with the server's GUID and the
// negotiated MTU.
type OpenConnectionReply1 struct {
	ServerGUID  uint64
	UseSecurity bool
	MTUSize     uint16
}

func (m OpenConnectionReply1) Encode() []byte {
	w := NewWriter()
	w.Uint8(IDOpenConnectionReply1)
	w.Magic()
	w.Uint64(m.ServerGUID)
	w.Uint8(boolByte(m.UseSecurity))
	w.Uint16(m.MTUSize)
	return w.Bytes()
}

func DecodeOpenConnectionReply1(data []byte) (OpenConnectionReply1, error) {
	r := NewReader(data)
	if err := expectID(r, IDOpenConnectionReply1); err != nil {
		return OpenConnectionReply1{}, err
	}
	if err := r.Magic(); err != nil {
		return OpenConnectionReply1{}, err
	}
	guid, err := r.Uint64()
	if err != nil {
		return OpenConnectionReply1{}, wireErr("decode open connection reply 1", err)
	}
	sec, err := r.Uint8()
	if err != nil {
		return OpenConnectionReply1{}, wireErr("decode open connection reply 1", err)
	}
	mtu, err := r.Uint16()
	if err != nil {
		return OpenConnectionReply1{}, wireErr("decode open connection reply 1", err)
	}
	return OpenConnectionReply1{ServerGUID: guid, UseSecurity: sec != 0, MTUSize: mtu}, nil
}

// OpenConnectionRequest2 finalizes the MTU negotiation and carries the
// client's GUID.
type OpenConnectionRequest2 struct {
	ServerAddress netip.AddrPort
	MTUSize       uint16
	ClientGUID    uint64
}

func (m OpenConnectionRequest2) Encode() []byte {
	w := NewWriter()
	w.Uint8(IDOpenConnectionRequest2)
	w.Magic()
	EncodeAddr(w, m.ServerAddress)
	w.Uint16(m.MTUSize)
	w.Uint64(m.ClientGUID)
	return w.Bytes()
}

func DecodeOpenConnectionRequest2(data []byte) (OpenConnectionRequest2, error) {
	r := NewReader(data)
	if err := expectID(r, IDOpenConnectionRequest2); err != nil {
		return OpenConnectionRequest2{}, err
	}
	if err := r.Magic(); err != nil {
		return OpenConnectionRequest2{}, err
	}
	addr, err := DecodeAddr(r)
	if err != nil {
		return OpenConnectionRequest2{}, err
	}
	mtu, err := r.Uint16()
	if err != nil {
		return OpenConnectionRequest2{}, wireErr("decode open connection request 2", err)
	}
	guid, err := r.Uint64()
	if err != nil {
		return OpenConnectionRequest2{}, wireErr("decode open connection request 2", err)
	}
	return OpenConnectionRequest2{ServerAddress: addr, MTUSize: mtu, ClientGUID: guid}, nil
}

// OpenConnectionReply2 completes the offline handshake; its arrival on
// the server→player leg is what promotes a session to Connected (§4.9).
type OpenConnectionReply2 struct {
	ServerGUID    uint64
	ClientAddress netip.AddrPort
	MTUSize       uint16
	UseEncryption bool
}

func (m OpenConnectionReply2) Encode() []byte {
	w := NewWriter()
	w.Uint8(IDOpenConnectionReply2)
	w.Magic()
	w.Uint64(m.ServerGUID)
	EncodeAddr(w, m.ClientAddress)
	w.Uint16(m.MTUSize)
	w.Uint8(boolByte(m.UseEncryption))
	return w.Bytes()
}

func DecodeOpenConnectionReply2(data []byte) (OpenConnectionReply2, error) {
	r := NewReader(data)
	if err := expectID(r, IDOpenConnectionReply2); err != nil {
		return OpenConnectionReply2{}, err
	}
	if err := r.Magic(); err != nil {
		return OpenConnectionReply2{}, err
	}
	guid, err := r.Uint64()
	if err != nil {
		return OpenConnectionReply2{}, wireErr("decode open connection reply 2", err)
	}
	addr, err := DecodeAddr(r)
	if err != nil {
		return OpenConnectionReply2{}, err
	}
	mtu, err := r.Uint16()
	if err != nil {
		return OpenConnectionReply2{}, wireErr("decode open connection reply 2", err)
	}
	enc, err := r.Uint8()
	if err != nil {
		return OpenConnectionReply2{}, wireErr("decode open connection reply 2", err)
	}
	return OpenConnectionReply2{ServerGUID: guid, ClientAddress: addr, MTUSize: mtu, UseEncryption: enc != 0}, nil
}

// AlreadyConnected is sent back when a handshake arrives for an address
// RakNet believes is already connected.
type AlreadyConnected struct{}

func (m AlreadyConnected) Encode() []byte {
	w := NewWriter()
	w.Uint8(IDAlreadyConnected)
	w.Magic()
	return w.Bytes()
}

func DecodeAlreadyConnected(data []byte) (AlreadyConnected, error) {
	r := NewReader(data)
	if err := expectID(r, IDAlreadyConnected); err != nil {
		return AlreadyConnected{}, err
	}
	if err := r.Magic(); err != nil {
		return AlreadyConnected{}, err
	}
	return AlreadyConnected{}, nil
}

// IncompatibleProtocolVersion is returned when a client's RakNet
// protocol version does not match the server's.
type IncompatibleProtocolVersion struct {
	ServerProtocol byte
	ServerGUID     uint64
}

func (m IncompatibleProtocolVersion) Encode() []byte {
	w := NewWriter()
	w.Uint8(IDIncompatibleProtocolVersion)
	w.Uint8(m.ServerProtocol)
	w.Magic()
	w.Uint64(m.ServerGUID)
	return w.Bytes()
}

func DecodeIncompatibleProtocolVersion(data []byte) (IncompatibleProtocolVersion, error) {
	r := NewReader(data)
	if err := expectID(r, IDIncompatibleProtocolVersion); err != nil {
		return IncompatibleProtocolVersion{}, err
	}
	proto, err := r.Uint8()
	if err != nil {
		return IncompatibleProtocolVersion{}, wireErr("decode incompatible protocol version", err)
	}
	if err := r.Magic(); err != nil {
		return IncompatibleProtocolVersion{}, err
	}
	guid, err := r.Uint64()
	if err != nil {
		return IncompatibleProtocolVersion{}, wireErr("decode incompatible protocol version", err)
	}
	return IncompatibleProtocolVersion{ServerProtocol: proto, ServerGUID: guid}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
