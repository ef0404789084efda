package query

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
)

const (
	unconnectedPing = 0x01
	unconnectedPong = 0x1c
)

// raknetMagic is the offline message id every unconnected packet carries
var raknetMagic = []byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// queryBedrock sends a RakNet unconnected ping over UDP
func queryBedrock(ctx context.Context, address string) (domain.RawStatus, error) {
	const op = "bedrock ping"

	conn, err := dial(ctx, "udp", address)
	if err != nil {
		return domain.RawStatus{}, unreachable(op, fmt.Errorf("connecting to %s: %w", address, err))
	}
	defer conn.Close()

	if _, err := conn.Write(pingPacket(time.Now())); err != nil {
		return domain.RawStatus{}, unreachable(op, fmt.Errorf("sending request: %w", err))
	}

	buf := make([]byte, maxResponse)
	n, err := conn.Read(buf)
	if err != nil {
		return domain.RawStatus{}, classifyIO(op, fmt.Errorf("reading response: %w", err))
	}
	return parsePong(buf[:n])
}

func pingPacket(now time.Time) []byte {
	var b bytes.Buffer
	b.WriteByte(unconnectedPing)
	binary.Write(&b, binary.BigEndian, now.UnixMilli())
	b.Write(raknetMagic)
	binary.Write(&b, binary.BigEndian, uint64(0x0C0FFEE))
	return b.Bytes()
}

// parsePong parses an unconnected pong:
// 0x1c | time int64 | server guid int64 | magic | len uint16 | server id string
func parsePong(data []byte) (domain.RawStatus, error) {
	const op = "bedrock ping"
	const header = 1 + 8 + 8 + 16 + 2

	if len(data) < header || data[0] != unconnectedPong {
		return domain.RawStatus{}, malformed(op, errors.New("invalid response prefix"))
	}
	if !bytes.Equal(data[17:33], raknetMagic) {
		return domain.RawStatus{}, malformed(op, errors.New("missing offline magic"))
	}
	size := int(binary.BigEndian.Uint16(data[33:35]))
	if header+size > len(data) {
		return domain.RawStatus{}, malformed(op, errors.New("truncated server id"))
	}
	return parseServerID(string(data[header : header+size]))
}

// parseServerID parses the semicolon separated advertisement
// Format: MCPE;motd;protocol;version;online;max;guid;motd2;gamemode;gamemode_num;port4;port6;
func parseServerID(id string) (domain.RawStatus, error) {
	const op = "bedrock ping"

	parts := strings.Split(id, ";")
	if len(parts) < 6 {
		return domain.RawStatus{}, malformed(op, fmt.Errorf("server id has %d fields", len(parts)))
	}

	online, err1 := strconv.Atoi(parts[4])
	maxPlayers, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		return domain.RawStatus{}, malformed(op, errors.New("non-numeric player counts"))
	}

	raw := domain.RawStatus{
		Variant:       domain.VariantBedrock,
		Online:        true,
		PlayersOnline: online,
		PlayersMax:    maxPlayers,
		Version:       parts[3],
		MOTD:          domain.CleanText(parts[1]),
		Software:      parts[0],
	}
	raw.Protocol, _ = strconv.Atoi(parts[2])
	if len(parts) > 8 {
		raw.Gamemode = parts[8]
	}
	return raw, nil
}
