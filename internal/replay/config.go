package replay

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnsupportedStorageType is returned by accessors that need a snapshot
// location when the record carries a storage type we cannot read from.
var ErrUnsupportedStorageType = errors.New("unsupported storage type")

// Supported snapshot storage types.
const (
	StorageS3         = "s3"
	StorageFilesystem = "filesystem"
	StorageFS         = "fs"
)

// BlockConfig is one replay slice: a contiguous block range, the snapshot it
// starts from and the integrity hash expected once the last block is applied.
//
// ReplaySliceID is assigned at load time (1..N in file order) and is never
// written back to disk.
type BlockConfig struct {
	ReplaySliceID         int    `json:"replay_slice_id"`
	StartBlockID          uint64 `json:"start_block_id"`
	EndBlockID            uint64 `json:"end_block_id"`
	SnapshotPath          string `json:"snapshot_path"`
	StorageType           string `json:"storage_type"`
	ExpectedIntegrityHash string `json:"expected_integrity_hash"`
	SpringVersion         string `json:"spring_version"`
}

// blockRecord is the on-disk shape of a BlockConfig.
type blockRecord struct {
	StartBlockID          uint64 `json:"start_block_id"`
	EndBlockID            uint64 `json:"end_block_id"`
	SnapshotPath          string `json:"snapshot_path"`
	StorageType           string `json:"storage_type"`
	ExpectedIntegrityHash string `json:"expected_integrity_hash"`
	SpringVersion         string `json:"spring_version"`
}

func (r blockRecord) withID(id int) BlockConfig {
	return BlockConfig{
		ReplaySliceID:         id,
		StartBlockID:          r.StartBlockID,
		EndBlockID:            r.EndBlockID,
		SnapshotPath:          r.SnapshotPath,
		StorageType:           r.StorageType,
		ExpectedIntegrityHash: r.ExpectedIntegrityHash,
		SpringVersion:         r.SpringVersion,
	}
}

func (c BlockConfig) record() blockRecord {
	return blockRecord{
		StartBlockID:          c.StartBlockID,
		EndBlockID:            c.EndBlockID,
		SnapshotPath:          c.SnapshotPath,
		StorageType:           c.StorageType,
		ExpectedIntegrityHash: c.ExpectedIntegrityHash,
		SpringVersion:         c.SpringVersion,
	}
}

// GetSnapshotPath returns the snapshot location on the replay node, failing
// with ErrUnsupportedStorageType when the storage type is not one we know.
func (c BlockConfig) GetSnapshotPath() (string, error) {
	if !c.supportedStorageType() {
		return "", fmt.Errorf("slice %d: %w: %q", c.ReplaySliceID, ErrUnsupportedStorageType, c.StorageType)
	}
	return c.SnapshotPath, nil
}

func (c BlockConfig) supportedStorageType() bool {
	switch c.StorageType {
	case StorageS3, StorageFilesystem, StorageFS:
		return true
	default:
		return false
	}
}

// ValidateIntegrityHash reports whether computed is exactly the expected hash.
// No normalisation is applied; comparison is case-sensitive.
func (c BlockConfig) ValidateIntegrityHash(computed string) bool {
	return computed == c.ExpectedIntegrityHash
}

// ParseKey converts an unsigned base-10 literal into an int key. Signs,
// whitespace, empty strings and anything non-digit are rejected.
func ParseKey(key string) (int, bool) {
	if !IsDigits(key) {
		return 0, false
	}
	n, err := strconv.Atoi(key)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
