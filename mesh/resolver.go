// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"bytes"
	"fmt"

	"github.com/resonance-mesh/resonance/handshake"
	"github.com/resonance-mesh/resonance/lib/secret"
)

// ResolveSecret implements handshake.SecretResolver. Link handshakes go
// to the issuer; member-to-member handshakes use the room's mesh
// secret.
func (n *Node) ResolveSecret(request handshake.ResolveRequest) (handshake.Credentials, error) {
	if len(request.LinkKey) != 0 {
		return n.issuer.ResolveSecret(request)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.meshSecret == nil || n.roomID != request.RoomID {
		return handshake.Credentials{}, fmt.Errorf("%w: no mesh secret for room %s", ErrNotInRoom, request.RoomID)
	}
	meshSecret, err := secret.NewFromBytes(bytes.Clone(n.meshSecret.Bytes()))
	if err != nil {
		return handshake.Credentials{}, err
	}
	return handshake.Credentials{Secret: meshSecret}, nil
}
