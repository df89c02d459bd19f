// Package delta implements the block-delta codec (C1): fixed-size block
// hashing, delta creation against a prior file, delta application, and
// structural delta serialization.
package delta

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"git.nodeforge.dev/vault/snapguard/internal/backuperr"
)

// BlockSize is the fixed block size used for both hashing and delta
// payloads. 4 KiB aligns with common page size and bounds per-delta memory.
const BlockSize = 4096

// Block is a single changed block within a delta.
type Block struct {
	Index int    `json:"index"`
	Hash  string `json:"block_hash"`
	Data  []byte `json:"block_bytes"`
}

// Delta is the structured record produced by CreateDelta and consumed by
// ApplyDelta. Unchanged blocks are elided from ChangedBlocks.
type Delta struct {
	OriginalFileHash string  `json:"original_file_hash"`
	BlockSize        int     `json:"block_size"`
	TotalBlocks      int     `json:"total_blocks"`
	ChangedBlocks    []Block `json:"changed_blocks"`
	NewFileSize      int64   `json:"new_file_size"`
}

// PayloadSize returns the number of changed-block bytes the delta carries,
// used by the writer to decide whether a delta is worth keeping.
func (d *Delta) PayloadSize() int64 {
	var n int64
	for _, b := range d.ChangedBlocks {
		n += int64(len(b.Data))
	}
	return n
}

// HashBlocks reads path in BlockSize chunks and returns the SHA-256 hash of
// each chunk in order. A missing file yields an empty list without error;
// callers that need to distinguish "missing" from "empty" should stat first.
func HashBlocks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, backuperr.Wrap(err, backuperr.IOError, "open file for block hashing").WithContext("path", path)
	}
	defer f.Close()

	var hashes []string
	buf := make([]byte, BlockSize)
	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			sum := sha256.Sum256(buf[:n])
			hashes = append(hashes, hex.EncodeToString(sum[:]))
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, backuperr.Wrap(rerr, backuperr.IOError, "read file for block hashing").WithContext("path", path)
		}
	}
	return hashes, nil
}

// CreateDelta computes a Delta describing how newPath differs from prevPath,
// block by block. A nonexistent prevPath is treated as an empty prior file.
func CreateDelta(prevPath, newPath string) (*Delta, error) {
	prevHashes, err := HashBlocks(prevPath)
	if err != nil {
		return nil, err
	}

	var originalContent []byte
	if data, rerr := os.ReadFile(prevPath); rerr == nil {
		originalContent = data
	}
	origSum := sha256.Sum256(originalContent)

	f, err := os.Open(newPath)
	if err != nil {
		return nil, backuperr.Wrap(err, backuperr.IOError, "open new file for delta").WithContext("path", newPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, backuperr.Wrap(err, backuperr.IOError, "stat new file for delta").WithContext("path", newPath)
	}

	d := &Delta{
		OriginalFileHash: hex.EncodeToString(origSum[:]),
		BlockSize:        BlockSize,
		NewFileSize:      info.Size(),
	}

	buf := make([]byte, BlockSize)
	index := 0
	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			sum := sha256.Sum256(buf[:n])
			hash := hex.EncodeToString(sum[:])
			changed := index >= len(prevHashes) || prevHashes[index] != hash
			if changed {
				data := make([]byte, n)
				copy(data, buf[:n])
				d.ChangedBlocks = append(d.ChangedBlocks, Block{Index: index, Hash: hash, Data: data})
			}
			index++
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, backuperr.Wrap(rerr, backuperr.IOError, "read new file for delta").WithContext("path", newPath)
		}
	}
	d.TotalBlocks = index

	return d, nil
}

// ApplyDelta reconstructs the new file at outPath from prevPath (the prior
// full content, or nonexistent for an empty base) plus the changed blocks in
// delta. The parent directory of outPath is created if absent.
func ApplyDelta(prevPath string, d *Delta, outPath string) error {
	var blocks [][]byte

	if f, err := os.Open(prevPath); err == nil {
		defer f.Close()
		buf := make([]byte, d.BlockSize)
		for {
			n, rerr := io.ReadFull(f, buf)
			if n > 0 {
				block := make([]byte, n)
				copy(block, buf[:n])
				blocks = append(blocks, block)
			}
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				break
			}
			if rerr != nil {
				return backuperr.Wrap(rerr, backuperr.IOError, "read prior file for delta apply").WithContext("path", prevPath)
			}
		}
	} else if !os.IsNotExist(err) {
		return backuperr.Wrap(err, backuperr.IOError, "open prior file for delta apply").WithContext("path", prevPath)
	}

	for len(blocks) < d.TotalBlocks {
		blocks = append(blocks, nil)
	}

	for _, cb := range d.ChangedBlocks {
		if cb.Index < 0 || cb.Index >= len(blocks) {
			return backuperr.New(backuperr.DeltaFormatError, "changed block index out of range").
				WithContext("index", cb.Index).WithContext("total_blocks", d.TotalBlocks)
		}
		blocks[cb.Index] = cb.Data
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "create parent directory for delta output").WithContext("path", outPath)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "create delta output file").WithContext("path", outPath)
	}
	defer out.Close()

	var written int64
	for _, b := range blocks {
		if written >= d.NewFileSize {
			break
		}
		remaining := d.NewFileSize - written
		toWrite := int64(len(b))
		if toWrite > remaining {
			toWrite = remaining
		}
		if _, err := out.Write(b[:toWrite]); err != nil {
			return backuperr.Wrap(err, backuperr.IOError, "write delta output file").WithContext("path", outPath)
		}
		written += toWrite
	}
	if written < d.NewFileSize {
		if err := out.Truncate(d.NewFileSize); err != nil {
			return backuperr.Wrap(err, backuperr.IOError, "truncate delta output file").WithContext("path", outPath)
		}
	}

	return nil
}

// SaveDelta serializes d as JSON to path, creating parent directories as needed.
func SaveDelta(d *Delta, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "create parent directory for delta file").WithContext("path", path)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "marshal delta").WithContext("path", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "write delta file").WithContext("path", path)
	}
	return nil
}

// LoadDelta deserializes a Delta from path. A malformed file is reported as
// a DeltaFormatError so callers can distinguish corruption from I/O failure.
func LoadDelta(path string) (*Delta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, backuperr.Wrap(err, backuperr.IOError, "read delta file").WithContext("path", path)
	}
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, backuperr.Wrap(err, backuperr.DeltaFormatError, "corrupt delta file").WithContext("path", path)
	}
	return &d, nil
}
