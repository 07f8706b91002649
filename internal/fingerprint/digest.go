package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest is a lowercase hex SHA-256 content hash. The zero value means
// "not recorded" and never compares equal to a real digest.
type Digest string

// None is the absent digest.
const None Digest = ""

// IsZero reports whether the digest is absent.
func (d Digest) IsZero() bool {
	return d == None
}

// Short returns a truncated form suitable for log output.
func (d Digest) Short() string {
	if len(d) > 12 {
		return string(d[:12])
	}
	return string(d)
}

// Sum hashes a sequence of byte fields into a single digest. Each field is
// framed with its length so that ("ab","c") and ("a","bc") hash differently.
func Sum(fields ...[]byte) Digest {
	h := sha256.New()
	var frame [8]byte
	for _, field := range fields {
		binary.BigEndian.PutUint64(frame[:], uint64(len(field)))
		h.Write(frame[:])
		h.Write(field)
	}
	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// SumStrings is Sum over string fields.
func SumStrings(fields ...string) Digest {
	bs := make([][]byte, len(fields))
	for i, f := range fields {
		bs[i] = []byte(f)
	}
	return Sum(bs...)
}

// SumBytes hashes a single unframed byte slice. It matches what File
// produces for a file with the same content.
func SumBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// File hashes the content of the file at path. The underlying os error is
// wrapped, so errors.Is(err, fs.ErrNotExist) works on missing files.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return None, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return None, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}
