package supervisor

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// ServerProperties is a parsed server.properties file
type ServerProperties map[string]string

// ReadServerProperties parses the key=value format the game server
// writes. Comment and malformed lines are skipped.
func ReadServerProperties(path string) (ServerProperties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := make(ServerProperties)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props, scanner.Err()
}

// Bool reads a boolean property, false when absent
func (p ServerProperties) Bool(key string) bool {
	return strings.EqualFold(p[key], "true")
}

// Int reads an integer property, def when absent or malformed
func (p ServerProperties) Int(key string, def int) int {
	value, err := strconv.Atoi(p[key])
	if err != nil {
		return def
	}
	return value
}
