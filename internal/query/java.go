package query

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ernie/craftwatch/internal/domain"
)

const (
	handshakePacket   = 0x00
	statusRequest     = 0x00
	nextStateStatus   = 1
	anyProtocol       = -1
	maxStatusJSONSize = 1 << 20
)

// slpResponse is the JSON body of a Server List Ping status response
type slpResponse struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players *struct {
		Max    int `json:"max"`
		Online int `json:"online"`
		Sample []struct {
			Name string `json:"name"`
			ID   string `json:"id"`
		} `json:"sample"`
	} `json:"players"`
	Description json.RawMessage `json:"description"`
	Favicon     string          `json:"favicon"`
}

// queryJava performs a Server List Ping over TCP
func queryJava(ctx context.Context, address, host string, port int) (domain.RawStatus, error) {
	const op = "java ping"

	conn, err := dial(ctx, "tcp", address)
	if err != nil {
		return domain.RawStatus{}, unreachable(op, fmt.Errorf("connecting to %s: %w", address, err))
	}
	defer conn.Close()

	var req bytes.Buffer
	writePacket(&req, handshake(host, port))
	writePacket(&req, []byte{statusRequest})
	if _, err := conn.Write(req.Bytes()); err != nil {
		return domain.RawStatus{}, unreachable(op, fmt.Errorf("sending request: %w", err))
	}

	body, err := readStatusPacket(bufio.NewReader(conn))
	if err != nil {
		return domain.RawStatus{}, classifyStream(op, fmt.Errorf("reading response: %w", err))
	}
	return parseSLP(body)
}

func handshake(host string, port int) []byte {
	var b bytes.Buffer
	writeVarInt(&b, handshakePacket)
	writeVarInt(&b, anyProtocol)
	writeVarInt(&b, int32(len(host)))
	b.WriteString(host)
	binary.Write(&b, binary.BigEndian, uint16(port))
	writeVarInt(&b, nextStateStatus)
	return b.Bytes()
}

func writePacket(w *bytes.Buffer, payload []byte) {
	writeVarInt(w, int32(len(payload)))
	w.Write(payload)
}

func writeVarInt(w *bytes.Buffer, v int32) {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			w.WriteByte(byte(u))
			return
		}
		w.WriteByte(byte(u&0x7F | 0x80))
		u >>= 7
	}
}

func readVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, errors.New("varint too long")
}

// readStatusPacket reads one framed status response and returns its JSON body
func readStatusPacket(r *bufio.Reader) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 || length > maxStatusJSONSize {
		return nil, fmt.Errorf("invalid packet length %d", length)
	}
	packet := make([]byte, length)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, err
	}

	// EOF past this point is a short packet, not a dropped connection
	pr := bytes.NewReader(packet)
	id, err := readVarInt(pr)
	if err != nil {
		return nil, fmt.Errorf("truncated packet id: %v", err)
	}
	if id != 0x00 {
		return nil, fmt.Errorf("unexpected packet id 0x%02x", id)
	}
	size, err := readVarInt(pr)
	if err != nil {
		return nil, fmt.Errorf("truncated string length: %v", err)
	}
	if size < 0 || int(size) > pr.Len() {
		return nil, fmt.Errorf("string length %d exceeds packet", size)
	}
	body := make([]byte, size)
	io.ReadFull(pr, body)
	return body, nil
}

func parseSLP(body []byte) (domain.RawStatus, error) {
	const op = "java ping"

	var resp slpResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.RawStatus{}, malformed(op, err)
	}
	if resp.Players == nil {
		return domain.RawStatus{}, malformed(op, errors.New("missing players block"))
	}

	raw := domain.RawStatus{
		Variant:       domain.VariantJava,
		Online:        true,
		PlayersOnline: resp.Players.Online,
		PlayersMax:    resp.Players.Max,
		Roster:        make([]string, 0, len(resp.Players.Sample)),
		Version:       domain.CleanText(resp.Version.Name),
		Protocol:      resp.Version.Protocol,
		MOTD:          strings.TrimSpace(domain.CleanText(chatText(resp.Description))),
		Icon:          resp.Favicon,
	}
	for _, p := range resp.Players.Sample {
		if name := domain.CleanText(p.Name); name != "" {
			raw.Roster = append(raw.Roster, name)
		}
	}
	return raw, nil
}

// chatComponent is the subset of a text component needed to flatten it
type chatComponent struct {
	Text  string            `json:"text"`
	Extra []json.RawMessage `json:"extra"`
}

// chatText flattens a description that is either a plain string or a
// (possibly nested) chat component
func chatText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var c chatComponent
	if err := json.Unmarshal(raw, &c); err != nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(c.Text)
	for _, extra := range c.Extra {
		b.WriteString(chatText(extra))
	}
	return b.String()
}
