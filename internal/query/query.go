// Package query implements the Minecraft UDP query protocol (full stat),
// the lower-latency alternative to RCON for listing players. The server
// must have enable-query set and a query.port configured.
package query

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	packetHandshake byte = 0x09
	packetStat      byte = 0x00
)

// magic prefixes every request packet
var magic = []byte{0xFE, 0xFD}

// FullStat is the decoded full-stat response
type FullStat struct {
	MOTD       string
	GameType   string
	Map        string
	NumPlayers int
	MaxPlayers int
	HostPort   int
	HostIP     string
	Players    []string
}

// Client queries one server address
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient targets host:queryPort with a per-exchange deadline
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &Client{addr: addr, timeout: timeout}
}

// FullStat performs handshake + full stat in one UDP session
func (c *Client) FullStat() (*FullStat, error) {
	conn, err := net.DialTimeout("udp", c.addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("query dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}

	sessionID := int32(time.Now().UnixNano() & 0x0F0F0F0F)

	token, err := handshake(conn, sessionID)
	if err != nil {
		return nil, err
	}

	return fullStat(conn, sessionID, token)
}

func handshake(conn net.Conn, sessionID int32) (int32, error) {
	request := make([]byte, 0, 7)
	request = append(request, magic...)
	request = append(request, packetHandshake)
	request = binary.BigEndian.AppendUint32(request, uint32(sessionID))

	if _, err := conn.Write(request); err != nil {
		return 0, fmt.Errorf("query handshake write: %w", err)
	}

	buf := make([]byte, 32)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("query handshake read: %w", err)
	}
	if n < 6 || buf[0] != packetHandshake {
		return 0, fmt.Errorf("malformed handshake response")
	}

	// Payload is the challenge token as a null-terminated ASCII integer
	payload := buf[5:n]
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	token, err := strconv.ParseInt(string(payload), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid challenge token %q: %w", payload, err)
	}
	return int32(token), nil
}

func fullStat(conn net.Conn, sessionID, token int32) (*FullStat, error) {
	request := make([]byte, 0, 15)
	request = append(request, magic...)
	request = append(request, packetStat)
	request = binary.BigEndian.AppendUint32(request, uint32(sessionID))
	request = binary.BigEndian.AppendUint32(request, uint32(token))
	// Four padding bytes upgrade the request from basic to full stat
	request = append(request, 0x00, 0x00, 0x00, 0x00)

	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("query stat write: %w", err)
	}

	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("query stat read: %w", err)
	}
	if n < 16 || buf[0] != packetStat {
		return nil, fmt.Errorf("malformed stat response")
	}

	// Skip type (1), session id (4) and the constant "splitnum" padding (11)
	return parseFullStat(buf[16:n])
}

// parseFullStat decodes the key/value section followed by the player
// section. Exported for tests via the package-internal test file.
func parseFullStat(payload []byte) (*FullStat, error) {
	stat := &FullStat{}

	kv := make(map[string]string)
	rest := payload
	for {
		var key, value []byte
		var ok bool
		key, rest, ok = cutNull(rest)
		if !ok {
			return nil, fmt.Errorf("truncated stat response")
		}
		if len(key) == 0 {
			break
		}
		value, rest, ok = cutNull(rest)
		if !ok {
			return nil, fmt.Errorf("truncated stat response")
		}
		kv[string(key)] = string(value)
	}

	stat.MOTD = kv["hostname"]
	stat.GameType = kv["gametype"]
	stat.Map = kv["map"]
	stat.HostIP = kv["hostip"]
	stat.NumPlayers, _ = strconv.Atoi(kv["numplayers"])
	stat.MaxPlayers, _ = strconv.Atoi(kv["maxplayers"])
	stat.HostPort, _ = strconv.Atoi(kv["hostport"])

	// Player section: "\x01player_\x00\x00" then null-separated names,
	// terminated by an empty name.
	marker := []byte("\x01player_\x00\x00")
	if i := bytes.Index(rest, marker); i >= 0 {
		rest = rest[i+len(marker):]
		for {
			var name []byte
			var ok bool
			name, rest, ok = cutNull(rest)
			if !ok || len(name) == 0 {
				break
			}
			stat.Players = append(stat.Players, string(name))
		}
	}

	return stat, nil
}

func cutNull(b []byte) (before, after []byte, found bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return nil, nil, false
	}
	return b[:i], b[i+1:], true
}

// Addr builds a query address for a host and port
func Addr(host string, port int) string {
	return net.JoinHostPort(strings.TrimSpace(host), strconv.Itoa(port))
}
