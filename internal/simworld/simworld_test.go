package simworld

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/rcon"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

// A minimal, standalone Source RCON wire-protocol peer, independent of the
// rcon package's unexported framing helpers, used only to script canned
// JSON responses to remote.call commands during these tests.

func writeRawPacket(t *testing.T, conn net.Conn, id, ptype int32, body string) {
	t.Helper()
	payload := append([]byte(body), 0, 0)
	size := int32(4 + 4 + len(payload))
	buf := make([]byte, 0, 4+size)
	var tmp [4]byte
	put := func(v int32) {
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		buf = append(buf, tmp[:]...)
	}
	put(size)
	put(id)
	put(ptype)
	buf = append(buf, payload...)
	_, err := conn.Write(buf)
	require.NoError(t, err)
}

func readRawPacket(t *testing.T, conn net.Conn) (int32, int32, string) {
	t.Helper()
	var sizeBuf [4]byte
	_, err := readFullRaw(conn, sizeBuf[:])
	require.NoError(t, err)
	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	rest := make([]byte, size)
	_, err = readFullRaw(conn, rest)
	require.NoError(t, err)
	id := int32(binary.LittleEndian.Uint32(rest[0:4]))
	ptype := int32(binary.LittleEndian.Uint32(rest[4:8]))
	body := string(rest[8 : len(rest)-2])
	return id, ptype, body
}

func readFullRaw(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// extractArgsJSON pulls the helpers.json_to_table('...') payload out of the
// silent-command string World.call builds, so the fake server can echo
// back a response keyed on what was actually sent.
var argsPattern = regexp.MustCompile(`helpers\.json_to_table\('(.*)'\)`)

func extractArgs(cmd string) map[string]any {
	m := argsPattern.FindStringSubmatch(cmd)
	if m == nil {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal([]byte(m[1]), &out)
	return out
}

// fakeRemote accepts one connection, authenticates unconditionally, and
// answers each command by calling respond with the decoded args, writing
// back whatever JSON string it returns.
func fakeRemote(t *testing.T, respond func(op string, args map[string]any) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	opPattern := regexp.MustCompile(`remote\.call\("[^"]+",\s*"([^"]+)"`)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		authID, _, _ := readRawPacket(t, conn)
		writeRawPacket(t, conn, authID, typeAuthResponse, "")

		for {
			id, _, body := readRawPacket(t, conn)
			opMatch := opPattern.FindStringSubmatch(body)
			op := ""
			if opMatch != nil {
				op = opMatch[1]
			}
			reply := respond(op, extractArgs(body))
			writeRawPacket(t, conn, id, typeResponse, reply)
		}
	}()
	return ln.Addr().String()
}

// typeAuthResponse/typeResponse mirror rcon's unexported packet-type
// constants (value 2 and 0 respectively in the Source RCON protocol).
const (
	typeAuthResponse int32 = 2
	typeResponse     int32 = 0
)

func newTestWorld(t *testing.T, respond func(op string, args map[string]any) string) *World {
	t.Helper()
	addr := fakeRemote(t, respond)
	client := rcon.New(agcore.RCONConfig{
		Address: addr, DialTimeout: time.Second, CommandTimeout: time.Second,
	}, nil)
	t.Cleanup(func() { client.Close() })
	return New(client, "agent_runtime")
}

func TestCharacter_PositionDecodesResponse(t *testing.T) {
	world := newTestWorld(t, func(op string, args map[string]any) string {
		assert.Equal(t, "character_position", op)
		assert.Equal(t, float64(7), args["agent_id"])
		return `{"x": 1.5, "y": -2.5}`
	})
	ch := NewCharacter(world, 7, 3.0, 2.7, 0.5, "player")

	pos, err := ch.Position(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worldmodel.Position{X: 1.5, Y: -2.5}, pos)
}

func TestCharacter_ValidDecodesBool(t *testing.T) {
	world := newTestWorld(t, func(op string, args map[string]any) string {
		return `{"valid": true}`
	})
	ch := NewCharacter(world, 1, 3.0, 2.7, 0.5, "player")

	valid, err := ch.Valid(context.Background())
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestCharacter_CraftBeginPassesRecipeAndCount(t *testing.T) {
	world := newTestWorld(t, func(op string, args map[string]any) string {
		assert.Equal(t, "craft_begin", op)
		assert.Equal(t, "iron-gear-wheel", args["recipe"])
		assert.Equal(t, float64(3), args["count"])
		return `{"started": 3}`
	})
	ch := NewCharacter(world, 1, 3.0, 2.7, 0.5, "player")

	started, err := ch.CraftBegin(context.Background(), "iron-gear-wheel", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, started)
}

func TestWorld_EntitiesNearDecodesSnapshotList(t *testing.T) {
	world := newTestWorld(t, func(op string, args map[string]any) string {
		assert.Equal(t, "entities_near", op)
		return `{"entities": [{"name": "iron-ore", "position": {"x": 1, "y": 2}}]}`
	})

	entities, err := world.EntitiesNear(context.Background(), worldmodel.Position{}, 10.0)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "iron-ore", entities[0].Name)
}

func TestWorld_TransferItemDecodesMovedCount(t *testing.T) {
	world := newTestWorld(t, func(op string, args map[string]any) string {
		assert.Equal(t, "transfer_item", op)
		assert.Equal(t, "iron-plate", args["item"])
		return `{"moved": 4}`
	})

	moved, err := world.TransferItem(context.Background(), worldmodel.Position{}, worldmodel.Position{X: 1}, "iron-plate", 5)
	require.NoError(t, err)
	assert.Equal(t, 4, moved)
}

func TestWorld_CallPropagatesRemoteError(t *testing.T) {
	world := newTestWorld(t, func(op string, args map[string]any) string {
		return `not-json`
	})

	_, err := world.TileHasResource(context.Background(), worldmodel.Position{}, "iron-ore")
	require.Error(t, err, "an undecodable response body must surface as an error")
}
