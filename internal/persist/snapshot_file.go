package persist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

// Snapshot file layout: magic, format version, BLAKE2b-256 checksum of the
// payload, payload length, payload. The checksum guards against torn or
// hand-edited files; a mismatch fails the load.
var snapshotMagic = [4]byte{'E', 'M', 'S', '1'}

const snapshotFormatVersion = 1

// ErrSnapshotCorrupt reports a malformed or checksum-failing snapshot file.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// WriteSnapshotFile atomically writes a registry snapshot: the payload goes
// to a temp file first, then renames over the target.
func WriteSnapshotFile(path string, data []byte) error {
	sum := blake2b.Sum256(data)

	buf := make([]byte, 0, len(data)+4+4+32+8)
	buf = append(buf, snapshotMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, snapshotFormatVersion)
	buf = append(buf, sum[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(data)))
	buf = append(buf, data...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadSnapshotFile loads and verifies a registry snapshot.
func ReadSnapshotFile(path string) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	const headerLen = 4 + 4 + 32 + 8
	if len(buf) < headerLen {
		return nil, fmt.Errorf("%w: truncated header", ErrSnapshotCorrupt)
	}
	if [4]byte(buf[:4]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrSnapshotCorrupt)
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrSnapshotCorrupt, version)
	}
	var sum [32]byte
	copy(sum[:], buf[8:40])
	length := binary.LittleEndian.Uint64(buf[40:48])
	payload := buf[headerLen:]
	if uint64(len(payload)) != length {
		return nil, fmt.Errorf("%w: payload length mismatch", ErrSnapshotCorrupt)
	}
	if blake2b.Sum256(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrSnapshotCorrupt)
	}
	return payload, nil
}
