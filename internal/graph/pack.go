package graph

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack"
	"lukechampine.com/blake3"
)

// Pack format, zstd compressed as a whole:
// [4 bytes: header length (big-endian)]
// [header JSON: PackHeader]
// [msgpack body: packBody]
//
// The header checksum is the BLAKE3 digest of the msgpack body.

const (
	PackVersion      = 1
	HeaderLengthSize = 4
	MaxHeaderSize    = 1024 * 1024
)

// PackHeader describes a pack body.
type PackHeader struct {
	Version  int    `json:"version"`
	Nodes    int64  `json:"nodes"`
	Edges    int64  `json:"edges"`
	Labels   int    `json:"labels"`
	Checksum string `json:"checksum"`
}

type packBody struct {
	Types      []uint8  `msgpack:"types"`
	Hashes     []byte   `msgpack:"hashes"`
	Timestamps []int64  `msgpack:"timestamps"`
	Src        []int64  `msgpack:"src"`
	Dst        []int64  `msgpack:"dst"`
	EdgeLabels []int32  `msgpack:"edge_labels"`
	Labels     []string `msgpack:"labels"`
}

// WritePack serializes g to w in the pack format.
func WritePack(w io.Writer, g *Graph) error {
	n := len(g.ids)
	body := packBody{
		Types:      make([]uint8, n),
		Hashes:     make([]byte, 0, n*HashSize),
		Timestamps: g.timestamps,
		Src:        make([]int64, 0, len(g.fwdDst)),
		Dst:        make([]int64, 0, len(g.fwdDst)),
		EdgeLabels: g.fwdLabels,
		Labels:     g.labels,
	}
	for i, id := range g.ids {
		body.Types[i] = uint8(id.Type)
		body.Hashes = append(body.Hashes, id.Hash[:]...)
	}
	for src := 0; src < n; src++ {
		for i := g.fwdOffsets[src]; i < g.fwdOffsets[src+1]; i++ {
			body.Src = append(body.Src, int64(src))
			body.Dst = append(body.Dst, int64(g.fwdDst[i]))
		}
	}

	bodyData, err := msgpack.Marshal(&body)
	if err != nil {
		return fmt.Errorf("encoding pack body: %w", err)
	}
	sum := blake3.Sum256(bodyData)
	header := PackHeader{
		Version:  PackVersion,
		Nodes:    int64(n),
		Edges:    int64(len(body.Src)),
		Labels:   len(g.labels),
		Checksum: hex.EncodeToString(sum[:]),
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	headerLen := make([]byte, HeaderLengthSize)
	binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))
	for _, part := range [][]byte{headerLen, headerJSON, bodyData} {
		if _, err := encoder.Write(part); err != nil {
			encoder.Close()
			return fmt.Errorf("compressing: %w", err)
		}
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}
	return nil
}

// ReadPack decodes a graph written by WritePack.
func ReadPack(r io.Reader) (*Graph, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	if len(decompressed) < HeaderLengthSize {
		return nil, fmt.Errorf("%w: pack too small: %d bytes", ErrFormat, len(decompressed))
	}
	headerLen := binary.BigEndian.Uint32(decompressed[:HeaderLengthSize])
	if headerLen > MaxHeaderSize {
		return nil, fmt.Errorf("%w: header too large: %d bytes", ErrFormat, headerLen)
	}
	if int(HeaderLengthSize+headerLen) > len(decompressed) {
		return nil, fmt.Errorf("%w: header length exceeds pack size", ErrFormat)
	}

	var header PackHeader
	if err := json.Unmarshal(decompressed[HeaderLengthSize:HeaderLengthSize+headerLen], &header); err != nil {
		return nil, fmt.Errorf("%w: parsing header: %v", ErrFormat, err)
	}
	if header.Version != PackVersion {
		return nil, fmt.Errorf("%w: unsupported pack version %d", ErrFormat, header.Version)
	}

	bodyData := decompressed[HeaderLengthSize+headerLen:]
	sum := blake3.Sum256(bodyData)
	if hex.EncodeToString(sum[:]) != header.Checksum {
		return nil, ErrChecksum
	}

	var body packBody
	if err := msgpack.NewDecoder(bytes.NewReader(bodyData)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrFormat, err)
	}
	return body.build(header)
}

func (body *packBody) build(header PackHeader) (*Graph, error) {
	n := len(body.Types)
	if int64(n) != header.Nodes || len(body.Hashes) != n*HashSize || len(body.Timestamps) != n {
		return nil, fmt.Errorf("%w: node tables disagree with header", ErrFormat)
	}
	m := len(body.Src)
	if int64(m) != header.Edges || len(body.Dst) != m || len(body.EdgeLabels) != m {
		return nil, fmt.Errorf("%w: edge tables disagree with header", ErrFormat)
	}

	b := NewBuilder()
	for i, t := range body.Types {
		if !NodeType(t).Valid() {
			return nil, fmt.Errorf("%w: node %d has unknown type %d", ErrFormat, i, t)
		}
		n := b.AddNode(NewSWHID(NodeType(t), body.Hashes[i*HashSize:(i+1)*HashSize]))
		if int(n) != i {
			return nil, fmt.Errorf("%w: duplicate identifier at node %d", ErrFormat, i)
		}
		b.SetTimestamp(n, body.Timestamps[i])
	}
	for i := 0; i < m; i++ {
		src, dst := Node(body.Src[i]), Node(body.Dst[i])
		if src < 0 || int(src) >= n || dst < 0 || int(dst) >= n {
			return nil, fmt.Errorf("%w: edge %d out of range", ErrFormat, i)
		}
		label := body.EdgeLabels[i]
		switch {
		case label == noLabel:
			b.AddEdge(src, dst)
		case label >= 0 && int(label) < len(body.Labels):
			b.AddLabelledEdge(src, dst, body.Labels[label])
		default:
			return nil, fmt.Errorf("%w: edge %d has unknown label %d", ErrFormat, i, label)
		}
	}
	return b.Build(), nil
}
