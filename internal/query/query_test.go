package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStatPayload(kv [][2]string, players []string) []byte {
	var payload []byte
	for _, pair := range kv {
		payload = append(payload, pair[0]...)
		payload = append(payload, 0)
		payload = append(payload, pair[1]...)
		payload = append(payload, 0)
	}
	payload = append(payload, 0) // empty key ends the section
	payload = append(payload, "\x01player_\x00\x00"...)
	for _, p := range players {
		payload = append(payload, p...)
		payload = append(payload, 0)
	}
	payload = append(payload, 0)
	return payload
}

func TestParseFullStat(t *testing.T) {
	payload := buildStatPayload([][2]string{
		{"hostname", "A Minecraft Server"},
		{"gametype", "SMP"},
		{"map", "world"},
		{"numplayers", "2"},
		{"maxplayers", "20"},
		{"hostport", "25565"},
		{"hostip", "172.18.0.2"},
	}, []string{"Alice", "Bob"})

	stat, err := parseFullStat(payload)
	require.NoError(t, err)

	assert.Equal(t, "A Minecraft Server", stat.MOTD)
	assert.Equal(t, 2, stat.NumPlayers)
	assert.Equal(t, 20, stat.MaxPlayers)
	assert.Equal(t, 25565, stat.HostPort)
	assert.Equal(t, []string{"Alice", "Bob"}, stat.Players)
}

func TestParseFullStatNoPlayers(t *testing.T) {
	payload := buildStatPayload([][2]string{
		{"hostname", "Empty"},
		{"numplayers", "0"},
		{"maxplayers", "20"},
	}, nil)

	stat, err := parseFullStat(payload)
	require.NoError(t, err)
	assert.Empty(t, stat.Players)
	assert.Equal(t, 0, stat.NumPlayers)
}

func TestParseFullStatTruncated(t *testing.T) {
	_, err := parseFullStat([]byte("hostname"))
	assert.Error(t, err)
}
