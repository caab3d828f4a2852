package gelfpipe

import (
	"fmt"

	"github.com/google/uuid"
)

// Chunked GELF splits a message that does not fit one UDP datagram. Each
// chunk carries a 12 byte header:
//
// +------+------+---------------------+----------+-------+
// | 0    | 1    | 2 .. 9              | 10       | 11    |
// +------+------+---------------------+----------+-------+
// | 0x1e | 0x0f | message id          | sequence | count |
// +------+------+---------------------+----------+-------+
//
// A message may have at most 128 chunks.
const (
	gelfChunkMagic0    = 0x1e
	gelfChunkMagic1    = 0x0f
	gelfChunkHeaderLen = 12
	maxGELFChunks      = 128
)

// newGELFMessageID returns 8 random bytes identifying the chunks of one
// message.
func newGELFMessageID() [8]byte {
	var id [8]byte
	u := uuid.New()
	copy(id[:], u[:8])
	return id
}

// chunkGELF splits payload into datagrams of at most size bytes. A payload
// that fits is returned as is, unchunked.
func chunkGELF(payload []byte, size int, id [8]byte) ([][]byte, error) {
	if len(payload) <= size {
		return [][]byte{payload}, nil
	}

	dataLen := size - gelfChunkHeaderLen
	count := (len(payload) + dataLen - 1) / dataLen
	if count > maxGELFChunks {
		return nil, newError(KindEncoding, "chunk GELF message",
			fmt.Errorf("%d bytes need %d chunks of %d, more than %d", len(payload), count, size, maxGELFChunks))
	}

	chunks := make([][]byte, 0, count)
	for seq := 0; seq < count; seq++ {
		data := payload[seq*dataLen : min((seq+1)*dataLen, len(payload))]
		c := make([]byte, 0, gelfChunkHeaderLen+len(data))
		c = append(c, gelfChunkMagic0, gelfChunkMagic1)
		c = append(c, id[:]...)
		c = append(c, byte(seq), byte(count))
		chunks = append(chunks, append(c, data...))
	}
	return chunks, nil
}
