package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// listPipeWirePorts returns the capture output ports of the PipeWire graph,
// used when PulseAudio tooling is not installed
func listPipeWirePorts(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "pw-link", "-o")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePipeWirePorts(string(output)), nil
}

// parsePipeWirePorts extracts port names from `pw-link -o`, keeping capture
// ports and dropping sink monitors. A port listed twice (two applications
// exposing the same name) is reported once.
func parsePipeWirePorts(output string) []string {
	seen := make(map[string]bool)
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Output ports:") || strings.HasPrefix(line, "Input ports:") {
			continue
		}
		if strings.Contains(line, ":monitor_") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		ports = append(ports, line)
	}
	return ports
}
