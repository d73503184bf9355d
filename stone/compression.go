package stone

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// decompress reads storedSize compressed bytes from r and returns the
// plainSize decompressed bytes, per the payload's declared [Compression].
func decompress(r io.Reader, c Compression, storedSize, plainSize uint64) ([]byte, error) {
	stored := make([]byte, storedSize)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, fmt.Errorf("%w: reading payload body: %v", ErrTruncatedPayload, err)
	}

	var plain io.Reader
	switch c {
	case NoCompression:
		if storedSize != plainSize {
			return nil, fmt.Errorf("%w: uncompressed payload size mismatch: stored=%d plain=%d", ErrCompression, storedSize, plainSize)
		}
		return stored, nil
	case Zstd:
		dec, err := zstd.NewReader(bytes.NewReader(stored))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCompression, err)
		}
		defer dec.Close()
		plain = dec
	case Xz:
		dec, err := xz.NewReader(bytes.NewReader(stored))
		if err != nil {
			return nil, fmt.Errorf("%w: xz: %v", ErrCompression, err)
		}
		plain = dec
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCompression, c)
	}

	out := make([]byte, plainSize)
	if _, err := io.ReadFull(plain, out); err != nil {
		return nil, fmt.Errorf("%w: decompressing payload: %v", ErrCompression, err)
	}
	return out, nil
}
