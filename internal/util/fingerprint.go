package util

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// fingerprintWindow bounds how many consumed bytes participate in the
// checkpoint fingerprint.
const fingerprintWindow = 2048

// TailFingerprint calculates the CRC32 fingerprint of up to 2KB of file
// content ending at the given offset. Comparing the stored fingerprint
// against a fresh one distinguishes an appended-to file from a path that was
// reused by a brand new file of equal or larger size.
func TailFingerprint(filepath string, offset int64) (string, error) {
	if offset <= 0 {
		return "", fmt.Errorf("fingerprint requires a positive offset, got %d", offset)
	}

	file, err := os.Open(filepath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	readSize := int64(fingerprintWindow)
	if offset < readSize {
		readSize = offset
	}

	if _, err := file.Seek(offset-readSize, io.SeekStart); err != nil {
		return "", err
	}

	data := make([]byte, readSize)
	if _, err := io.ReadFull(file, data); err != nil {
		return "", err
	}

	crc := crc32.ChecksumIEEE(data)
	return fmt.Sprintf("%08x", crc), nil
}
