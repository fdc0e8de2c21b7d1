// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"

	"github.com/resonance-mesh/resonance/lib/config"
)

func TestICEConfigFromServers_Empty(t *testing.T) {
	ice := ICEConfigFromServers(nil)
	if len(ice.Servers) != 0 {
		t.Errorf("expected no ICE servers, got %d", len(ice.Servers))
	}
}

func TestICEConfigFromServers_SkipsEmptyURLs(t *testing.T) {
	ice := ICEConfigFromServers([]config.ICEServer{
		{Username: "user", Credential: "pass"},
		{URLs: []string{"stun:stun.example.net:3478"}},
	})
	if len(ice.Servers) != 1 {
		t.Fatalf("expected 1 ICE server, got %d", len(ice.Servers))
	}
	if ice.Servers[0].Username != "" {
		t.Errorf("STUN server has username %q", ice.Servers[0].Username)
	}
}

func TestICEConfigFromServers_WithCredentials(t *testing.T) {
	ice := ICEConfigFromServers([]config.ICEServer{{
		URLs:       []string{"turn:turn.example.net:3478?transport=udp", "turn:turn.example.net:3478?transport=tcp"},
		Username:   "1234:user",
		Credential: "secret",
	}})
	if len(ice.Servers) != 1 {
		t.Fatalf("expected 1 ICE server entry, got %d", len(ice.Servers))
	}
	server := ice.Servers[0]
	if len(server.URLs) != 2 {
		t.Errorf("expected 2 URLs, got %d", len(server.URLs))
	}
	if server.Username != "1234:user" {
		t.Errorf("username = %q, want %q", server.Username, "1234:user")
	}
	if server.Credential != "secret" {
		t.Errorf("credential = %v, want %q", server.Credential, "secret")
	}
}
