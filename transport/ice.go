// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/resonance-mesh/resonance/lib/config"
)

// ICEConfig holds ICE server configuration for media PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// ICEConfigFromServers converts configured servers into pion entries.
// Servers without URLs are skipped. An empty list yields host
// candidates only, which is enough on one machine or one LAN.
func ICEConfigFromServers(servers []config.ICEServer) ICEConfig {
	var ice ICEConfig
	for _, server := range servers {
		if len(server.URLs) == 0 {
			continue
		}
		entry := webrtc.ICEServer{URLs: append([]string(nil), server.URLs...)}
		if server.Username != "" || server.Credential != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		ice.Servers = append(ice.Servers, entry)
	}
	return ice
}
