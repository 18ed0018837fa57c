package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Slot layout (length-prefixed JSON):
//
//	[0:4]  magic "MPSC"
//	[4]    format version
//	[5]    flags, bit 0 = payload is zlib-compressed
//	[6:10] big-endian payload length
//	[10:]  payload, JSON envelope {"key","expires","data"}
const (
	slotMagic      = "MPSC"
	slotVersion    = byte(1)
	flagCompressed = byte(1 << 0)
	headerSize     = 10
)

var errCorruptSlot = errors.New("corrupted cache slot")

type envelope struct {
	Key     string          `json:"key"`
	Expires int64           `json:"expires"`
	Data    json.RawMessage `json:"data"`
}

func encodeSlot(env envelope, compress bool) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	var flags byte
	if compress {
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("init zlib writer: %w", err)
		}
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("compress envelope: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("flush zlib writer: %w", err)
		}
		payload = buf.Bytes()
		flags |= flagCompressed
	}

	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out, slotMagic)
	out[4] = slotVersion
	out[5] = flags
	binary.BigEndian.PutUint32(out[6:headerSize], uint32(len(payload)))
	return append(out, payload...), nil
}

// decodeSlot validates the slot structure. maxDecoded caps the size of an
// inflated payload.
func decodeSlot(raw []byte, maxDecoded int64) (envelope, error) {
	if len(raw) < headerSize {
		return envelope{}, fmt.Errorf("%w: short header (%d bytes)", errCorruptSlot, len(raw))
	}
	if string(raw[:4]) != slotMagic {
		return envelope{}, fmt.Errorf("%w: bad magic", errCorruptSlot)
	}
	if raw[4] != slotVersion {
		return envelope{}, fmt.Errorf("%w: unknown version %d", errCorruptSlot, raw[4])
	}

	flags := raw[5]
	size := binary.BigEndian.Uint32(raw[6:headerSize])
	payload := raw[headerSize:]
	if uint64(len(payload)) != uint64(size) {
		return envelope{}, fmt.Errorf("%w: payload length %d, header says %d", errCorruptSlot, len(payload), size)
	}

	if flags&flagCompressed != 0 {
		inflated, err := inflate(payload, maxDecoded)
		if err != nil {
			return envelope{}, fmt.Errorf("%w: %v", errCorruptSlot, err)
		}
		payload = inflated
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", errCorruptSlot, err)
	}
	if env.Expires <= 0 || env.Data == nil {
		return envelope{}, fmt.Errorf("%w: missing expires or data", errCorruptSlot)
	}
	return env, nil
}

func inflate(payload []byte, maxDecoded int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var r io.Reader = zr
	if maxDecoded > 0 {
		r = io.LimitReader(zr, maxDecoded+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if maxDecoded > 0 && int64(len(out)) > maxDecoded {
		return nil, fmt.Errorf("inflated payload exceeds %d bytes", maxDecoded)
	}
	return out, nil
}
