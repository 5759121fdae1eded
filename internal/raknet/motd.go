package raknet

import (
	"strconv"
	"strings"
)

// MOTD is the server banner advertised in an UnconnectedPong (§3, §6).
type MOTD struct {
	Edition         string
	Line1           string
	ProtocolVersion int
	VersionName     string
	PlayerCount     int
	MaxPlayerCount  int
	ServerUUID      string
	Line2           string
	Gamemode        string
	NintendoLimited bool
	PortV4          int
	PortV6          int
}

// Encode renders m as the semicolon-delimited payload described in §6,
// in field order, with a mandatory trailing semicolon. nintendo_limited
// is inverted on the wire: 1 means not limited, 0 means limited.
func (m MOTD) Encode() string {
	fields := []string{
		m.Edition,
		m.Line1,
		strconv.Itoa(m.ProtocolVersion),
		m.VersionName,
		strconv.Itoa(m.PlayerCount),
		strconv.Itoa(m.MaxPlayerCount),
		m.ServerUUID,
		m.Line2,
		m.Gamemode,
		nintendoLimitedField(m.NintendoLimited),
		strconv.Itoa(m.PortV4),
		strconv.Itoa(m.PortV6),
	}
	return strings.Join(fields, ";") + ";"
}

func nintendoLimitedField(limited bool) string {
	if limited {
		return "0"
	}
	return "1"
}

// DecodeMOTD parses the payload Encode produces. It is tolerant of a
// truncated tail: any field missing past the first defaults to its zero
// value, and no error is returned.
func DecodeMOTD(payload string) MOTD {
	payload = strings.TrimSuffix(payload, ";")
	fields := strings.Split(payload, ";")

	var m MOTD
	get := func(i int) (string, bool) {
		if i < len(fields) {
			return fields[i], true
		}
		return "", false
	}
	getInt := func(i int) int {
		s, ok := get(i)
		if !ok {
			return 0
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0
		}
		return n
	}

	m.Edition, _ = get(0)
	m.Line1, _ = get(1)
	m.ProtocolVersion = getInt(2)
	m.VersionName, _ = get(3)
	m.PlayerCount = getInt(4)
	m.MaxPlayerCount = getInt(5)
	m.ServerUUID, _ = get(6)
	m.Line2, _ = get(7)
	m.Gamemode, _ = get(8)
	if s, ok := get(9); ok {
		m.NintendoLimited = s == "0"
	} else {
		m.NintendoLimited = false
	}
	m.PortV4 = getInt(10)
	m.PortV6 = getInt(11)
	return m
}
