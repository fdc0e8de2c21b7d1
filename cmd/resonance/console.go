// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/mesh"
	"github.com/resonance-mesh/resonance/room"
)

// commandTimeout bounds every console command except join, which waits
// for a human decision on the other side.
const commandTimeout = 10 * time.Second

type console struct {
	node *mesh.Node
	in   io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newConsole(node *mesh.Node, in io.Reader, out io.Writer) *console {
	return &console{node: node, in: in, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) help() {
	c.printf(`commands:
  create              found a new room
  link                print a single-use join link
  join <link>         join a room through a link
  approve <request>   admit a pending requester
  deny <request>      refuse a pending requester
  members             list the room's members
  leave               leave the room
  quit                leave and exit`)
}

// readCommands runs until stdin closes. Entering quit leaves the room
// and calls stop.
func (c *console) readCommands(ctx context.Context, stop context.CancelFunc) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" {
			c.leave(ctx)
			stop()
			return
		}
		c.execute(ctx, fields[0], fields[1:])
	}
}

func (c *console) execute(ctx context.Context, command string, args []string) {
	switch command {
	case "create":
		withTimeout(ctx, func(ctx context.Context) {
			roomID, err := c.node.CreateRoom(ctx)
			if err != nil {
				c.printf("create: %v", err)
				return
			}
			c.printf("created room %s", roomID)
		})

	case "link":
		withTimeout(ctx, func(ctx context.Context) {
			token, err := c.node.GenerateLink(ctx)
			if err != nil {
				c.printf("link: %v", err)
				return
			}
			c.printf("%s", token)
		})

	case "join":
		if len(args) != 1 {
			c.printf("usage: join <link>")
			return
		}
		c.printf("waiting for approval...")
		go func() {
			roomID, err := c.node.JoinViaLink(ctx, args[0])
			if err != nil {
				c.printf("join: %v", err)
				return
			}
			c.printf("joined room %s", roomID)
		}()

	case "approve", "deny":
		if len(args) != 1 {
			c.printf("usage: %s <request>", command)
			return
		}
		id, err := ref.ParseRequestID(args[0])
		if err != nil {
			c.printf("%s: %v", command, err)
			return
		}
		withTimeout(ctx, func(ctx context.Context) {
			decide := c.node.ApproveRequest
			if command == "deny" {
				decide = c.node.DenyRequest
			}
			if err := decide(ctx, id); err != nil {
				c.printf("%s: %v", command, err)
			}
		})

	case "members":
		withTimeout(ctx, func(ctx context.Context) {
			members, err := c.node.Members(ctx)
			if err != nil {
				c.printf("members: %v", err)
				return
			}
			c.printMembers(members)
		})

	case "leave":
		c.leave(ctx)

	case "help":
		c.help()

	default:
		c.printf("unknown command %q (try help)", command)
	}
}

func (c *console) leave(ctx context.Context) {
	withTimeout(ctx, func(ctx context.Context) {
		if err := c.node.Leave(ctx); err != nil && !errors.Is(err, mesh.ErrNotInRoom) {
			c.printf("leave: %v", err)
		}
	})
}

func (c *console) printMembers(members []room.Peer) {
	for _, member := range members {
		marker := " "
		if member.ID == c.node.Self() {
			marker = "*"
		}
		c.printf("%s %s  %-16s %s", marker, member.ID.Short(), member.Name, member.Address)
	}
}

// printEvents prints node events until the stream closes.
func (c *console) printEvents() {
	for event := range c.node.Events() {
		switch event.Kind {
		case mesh.EventJoinRequestReceived:
			c.printf("%s (%s, %s) asks to join; approve %s", event.Name, event.Peer.Short(), event.Address, event.Request)
		case mesh.EventJoinRequestExpired:
			c.printf("join request from %s expired", event.Name)
		case mesh.EventPeerJoined:
			c.printf("%s (%s) joined", event.Name, event.Peer.Short())
		case mesh.EventPeerLeft:
			c.printf("%s (%s) left: %s", event.Name, event.Peer.Short(), event.Reason)
		case mesh.EventPeerListUpdated:
			c.printf("%d members", len(event.Members))
		case mesh.EventJoinDenied:
			c.printf("join denied: %s", event.Reason)
		case mesh.EventMediaState:
			c.printf("audio with %s: %s", event.Peer.Short(), event.Media)
		case mesh.EventSecurityAlert, mesh.EventHandshakeFailed, mesh.EventConnectionFailed:
			c.printf("%s %s %s: %v", event.Kind, event.Peer.Short(), event.Address, event.Err)
		}
	}
}

func withTimeout(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	fn(ctx)
}
