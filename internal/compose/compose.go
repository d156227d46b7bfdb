// Package compose reads and validates the per-instance compose file. The
// file is user-owned: parsing never normalizes it, and writes always use
// the caller's original bytes so unknown fields survive round trips.
package compose

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mcadmin/mc-admin/pkg/errs"
	"gopkg.in/yaml.v3"
)

// ServiceName is the single required top-level service
const ServiceName = "mc"

const (
	// Default in-container ports of the game server image
	containerGamePort = 25565
	containerRconPort = 25575
)

// Properties are the typed fields extracted from a compose file
type Properties struct {
	ContainerName  string
	Image          string
	JavaVersion    string
	ServerType     string
	GameVersion    string
	MaxMemoryBytes int64
	GamePort       int
	RconPort       int
}

// Document is a parsed compose file plus its original bytes
type Document struct {
	raw  []byte
	root yaml.Node
}

// Parse decodes compose YAML without losing any content
func Parse(data []byte) (*Document, error) {
	doc := &Document{raw: append([]byte(nil), data...)}
	if err := yaml.Unmarshal(data, &doc.root); err != nil {
		return nil, errs.Validation("invalid compose YAML: %v", err)
	}
	if doc.root.Kind == 0 || len(doc.root.Content) == 0 {
		return nil, errs.Validation("compose file is empty")
	}
	return doc, nil
}

// Raw returns the original bytes, bit-exact
func (d *Document) Raw() []byte {
	return d.raw
}

// Extract pulls the typed properties out of the services.mc entry
func (d *Document) Extract() (*Properties, error) {
	service, err := d.serviceNode()
	if err != nil {
		return nil, err
	}

	props := &Properties{}

	if node := mapValue(service, "container_name"); node != nil {
		props.ContainerName = node.Value
	}
	if props.ContainerName == "" {
		return nil, errs.Validation("compose service %q is missing container_name", ServiceName)
	}

	if node := mapValue(service, "image"); node != nil {
		props.Image = node.Value
		props.JavaVersion = javaVersionFromImage(node.Value)
	}

	env, err := environmentMap(service)
	if err != nil {
		return nil, err
	}
	props.ServerType = strings.ToLower(env["TYPE"])
	props.GameVersion = env["VERSION"]

	memory := env["MEMORY"]
	if memory == "" {
		memory = env["MAX_MEMORY"]
	}
	if memory == "" {
		return nil, errs.Validation("compose environment is missing the MEMORY setting")
	}
	props.MaxMemoryBytes, err = parseMemoryBytes(memory)
	if err != nil {
		return nil, err
	}

	game, rcon, err := hostPorts(service)
	if err != nil {
		return nil, err
	}
	props.GamePort = game
	props.RconPort = rcon

	return props, nil
}

// Validate checks the invariants Create and UpdateCompose require
func (d *Document) Validate(instanceID string) (*Properties, error) {
	props, err := d.Extract()
	if err != nil {
		return nil, err
	}

	expected := "mc-" + instanceID
	if props.ContainerName != expected {
		return nil, errs.Validation("container_name must be %q, got %q", expected, props.ContainerName)
	}
	if props.GamePort == props.RconPort {
		return nil, errs.Validation("game port and RCON port must differ, both are %d", props.GamePort)
	}
	for _, port := range []int{props.GamePort, props.RconPort} {
		if port < 1 || port > 65535 {
			return nil, errs.Validation("port %d is out of range 1-65535", port)
		}
	}

	return props, nil
}

// serviceNode locates services.mc in the document
func (d *Document) serviceNode() (*yaml.Node, error) {
	root := &d.root
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, errs.Validation("compose root must be a mapping")
	}

	services := mapValue(root, "services")
	if services == nil || services.Kind != yaml.MappingNode {
		return nil, errs.Validation("compose file has no services section")
	}

	service := mapValue(services, ServiceName)
	if service == nil || service.Kind != yaml.MappingNode {
		return nil, errs.Validation("compose file must declare a %q service", ServiceName)
	}
	return service, nil
}

// mapValue returns the value node for a key in a mapping node
func mapValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// environmentMap flattens the environment section, which compose allows
// as either a mapping or a list of KEY=VALUE strings.
func environmentMap(service *yaml.Node) (map[string]string, error) {
	env := make(map[string]string)
	node := mapValue(service, "environment")
	if node == nil {
		return env, nil
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			env[node.Content[i].Value] = node.Content[i+1].Value
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			key, value, found := strings.Cut(item.Value, "=")
			if !found {
				return nil, errs.Validation("invalid environment entry %q", item.Value)
			}
			env[key] = value
		}
	default:
		return nil, errs.Validation("environment must be a mapping or a list")
	}
	return env, nil
}

// hostPorts resolves the host-side game and RCON ports from the ports
// section, matching on the in-container targets 25565 and 25575. Both the
// short "host:container" string form and the long mapping form are
// accepted.
func hostPorts(service *yaml.Node) (game, rcon int, err error) {
	node := mapValue(service, "ports")
	if node == nil || node.Kind != yaml.SequenceNode {
		return 0, 0, errs.Validation("compose service has no ports section")
	}

	for _, item := range node.Content {
		var host, target int
		switch item.Kind {
		case yaml.ScalarNode:
			host, target, err = parsePortMapping(item.Value)
		case yaml.MappingNode:
			host, target, err = parseLongPort(item)
		default:
			err = errs.Validation("unsupported ports entry")
		}
		if err != nil {
			return 0, 0, err
		}

		switch target {
		case containerGamePort:
			game = host
		case containerRconPort:
			rcon = host
		}
	}

	if game == 0 {
		return 0, 0, errs.Validation("ports must publish the game port (container port %d)", containerGamePort)
	}
	if rcon == 0 {
		return 0, 0, errs.Validation("ports must publish the RCON port (container port %d)", containerRconPort)
	}
	return game, rcon, nil
}

// parsePortMapping handles "host:container", "ip:host:container" and an
// optional "/tcp" suffix.
func parsePortMapping(spec string) (host, target int, err error) {
	spec = strings.TrimSuffix(strings.TrimSuffix(spec, "/tcp"), "/udp")
	parts := strings.Split(spec, ":")

	switch len(parts) {
	case 2:
		// host:container
	case 3:
		// ip:host:container
		parts = parts[1:]
	default:
		return 0, 0, errs.Validation("invalid port mapping %q", spec)
	}

	host, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, errs.Validation("invalid host port in %q", spec)
	}
	target, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, errs.Validation("invalid container port in %q", spec)
	}
	return host, target, nil
}

func parseLongPort(item *yaml.Node) (host, target int, err error) {
	published := mapValue(item, "published")
	targetNode := mapValue(item, "target")
	if published == nil || targetNode == nil {
		return 0, 0, errs.Validation("long-form port entry needs published and target")
	}
	host, err = strconv.Atoi(published.Value)
	if err != nil {
		return 0, 0, errs.Validation("invalid published port %q", published.Value)
	}
	target, err = strconv.Atoi(targetNode.Value)
	if err != nil {
		return 0, 0, errs.Validation("invalid target port %q", targetNode.Value)
	}
	return host, target, nil
}

var memoryPattern = regexp.MustCompile(`(?i)^([0-9]+)\s*([kmgt]?)b?$`)

// parseMemoryBytes converts JVM-style memory strings (4G, 2048M, plain
// bytes) to a byte count.
func parseMemoryBytes(value string) (int64, error) {
	match := memoryPattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return 0, errs.Validation("invalid memory setting %q", value)
	}

	amount, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, errs.Validation("invalid memory setting %q", value)
	}

	switch strings.ToUpper(match[2]) {
	case "K":
		amount *= 1 << 10
	case "M":
		amount *= 1 << 20
	case "G":
		amount *= 1 << 30
	case "T":
		amount *= 1 << 40
	}
	return amount, nil
}

var javaTagPattern = regexp.MustCompile(`java(\d+)`)

// javaVersionFromImage derives the Java major version from an image tag
// like itzg/minecraft-server:java21 or 2024.6.1-java17.
func javaVersionFromImage(image string) string {
	_, tag, found := strings.Cut(image, ":")
	if !found {
		return ""
	}
	if match := javaTagPattern.FindStringSubmatch(tag); match != nil {
		return match[1]
	}
	return ""
}

// Filenames lists the accepted compose file names, in lookup order
func Filenames() []string {
	return []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}
}

// Fingerprint is a human-readable one-liner for logs
func (p *Properties) Fingerprint() string {
	return fmt.Sprintf("%s game=%d rcon=%d mem=%d", p.ContainerName, p.GamePort, p.RconPort, p.MaxMemoryBytes)
}
