package system

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// NetworkStatusInput is empty; the tool takes no arguments.
type NetworkStatusInput struct{}

// interfacesFunc is injectable so tests can feed a fixed interface list.
var interfacesFunc = net.Interfaces

// NetworkStatusTool reports network interfaces and their addresses.
type NetworkStatusTool struct{}

// Name returns the tool name used in function-calling.
func (t *NetworkStatusTool) Name() string { return "network_status" }

// Description returns a human-readable description for the LLM.
func (t *NetworkStatusTool) Description() string {
	return "Reports the device's network interfaces, their state, and assigned addresses"
}

// Definition returns the JSON Schema for the tool input.
func (t *NetworkStatusTool) Definition() string {
	return tooling.GenerateSchema(NetworkStatusInput{})
}

// Call lists non-loopback interfaces with their addresses. Interfaces whose
// addresses cannot be read are still listed, without addresses.
func (t *NetworkStatusTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	ifaces, err := interfacesFunc()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	up := 0
	var lines []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		state := "down"
		if iface.Flags&net.FlagUp != 0 {
			state = "up"
			up++
		}
		var addrStrs []string
		if addrs, aerr := iface.Addrs(); aerr == nil {
			for _, a := range addrs {
				addrStrs = append(addrStrs, a.String())
			}
		}
		line := fmt.Sprintf("%s (%s)", iface.Name, state)
		if len(addrStrs) > 0 {
			line += ": " + strings.Join(addrStrs, ", ")
		}
		lines = append(lines, line)
	}

	data := strings.Join(lines, "\n")
	if data == "" {
		data = "no non-loopback interfaces"
	}
	return &domain.ToolResult{
		Data: data,
		Metadata: map[string]string{
			"interfaces_up": strconv.Itoa(up),
		},
	}, nil
}
