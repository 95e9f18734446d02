package syncjob

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/maxpert/changejournal/encoding"
	"github.com/maxpert/changejournal/journal"
)

// Payload formats and compressions
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"

	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Encoder turns a ChangeLog into a sink payload. Safe for concurrent use.
type Encoder struct {
	format      string
	compression string
	zenc        *zstd.Encoder
	zdec        *zstd.Decoder
}

// NewEncoder creates an encoder. Empty format means json, empty compression none.
func NewEncoder(format, compression string) (*Encoder, error) {
	if format == "" {
		format = FormatJSON
	}
	if compression == "" {
		compression = CompressionNone
	}

	switch format {
	case FormatJSON, FormatMsgpack:
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}

	e := &Encoder{format: format, compression: compression}
	switch compression {
	case CompressionNone:
	case CompressionZstd:
		zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		zdec, err := zstd.NewReader(nil)
		if err != nil {
			zenc.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		e.zenc = zenc
		e.zdec = zdec
	default:
		return nil, fmt.Errorf("unknown compression: %s", compression)
	}

	return e, nil
}

// Format returns the payload format name
func (e *Encoder) Format() string {
	return e.format
}

// Compression returns the compression name
func (e *Encoder) Compression() string {
	return e.compression
}

// Encode serializes and optionally compresses a ChangeLog
func (e *Encoder) Encode(cl journal.ChangeLog) ([]byte, error) {
	if cl.Records == nil {
		cl.Records = []journal.Record{}
	}

	var (
		data []byte
		err  error
	)
	switch e.format {
	case FormatMsgpack:
		data, err = encoding.Marshal(&cl)
	default:
		data, err = json.Marshal(&cl)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode changelog %d-%d: %w", cl.StartRevision, cl.EndRevision, err)
	}

	if e.zenc != nil {
		data = e.zenc.EncodeAll(data, make([]byte, 0, len(data)))
	}
	return data, nil
}

// Decode reverses Encode
func (e *Encoder) Decode(data []byte) (journal.ChangeLog, error) {
	var cl journal.ChangeLog

	if e.zdec != nil {
		plain, err := e.zdec.DecodeAll(data, nil)
		if err != nil {
			return cl, fmt.Errorf("failed to decompress payload: %w", err)
		}
		data = plain
	}

	var err error
	switch e.format {
	case FormatMsgpack:
		err = encoding.Unmarshal(data, &cl)
	default:
		err = json.Unmarshal(data, &cl)
	}
	if err != nil {
		return cl, fmt.Errorf("failed to decode payload: %w", err)
	}
	return cl, nil
}

// Close releases compression resources
func (e *Encoder) Close() {
	if e.zenc != nil {
		e.zenc.Close()
	}
	if e.zdec != nil {
		e.zdec.Close()
	}
}
