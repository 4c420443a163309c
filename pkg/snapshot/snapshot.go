// Package snapshot serializes a live transaction manager's state to a
// single portable blob, optionally compressed and encrypted, for
// regression fixtures and crash-scenario replay. It is an export path
// invoked on demand; the simulator itself never reads a snapshot back
// implicitly during normal operation.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/mnohosten/repcrec/pkg/compression"
	"github.com/mnohosten/repcrec/pkg/encryption"
	"github.com/mnohosten/repcrec/pkg/txnmgr"
)

// State is the portable, JSON-friendly representation of a manager's
// live state at one instant.
type State struct {
	Now          int64                      `json:"now"`
	Sites        []txnmgr.SiteStatus        `json:"sites"`
	Transactions []txnmgr.TransactionStatus `json:"transactions"`
	WaitsFor     map[int][]int              `json:"waits_for"`
	ItemValues   map[int]map[int]int        `json:"item_values"` // siteID -> item -> value
}

// Capture builds a State from a manager's current snapshot accessors.
func Capture(manager *txnmgr.Manager) *State {
	itemValues := make(map[int]map[int]int)
	for _, siteID := range manager.SiteIDs() {
		values, ok := manager.ItemValues(siteID)
		if !ok {
			continue
		}
		itemValues[siteID] = values
	}

	return &State{
		Now:          int64(manager.Now()),
		Sites:        manager.Sites(),
		Transactions: manager.Transactions(),
		WaitsFor:     manager.WaitsFor(),
		ItemValues:   itemValues,
	}
}

// Options controls how a State is serialized to and from a blob.
type Options struct {
	Compression *compression.Config
	Encryption  *encryption.Config
}

// DefaultOptions compresses with Zstd and applies no encryption.
func DefaultOptions() *Options {
	return &Options{
		Compression: compression.DefaultConfig(),
		Encryption:  encryption.DefaultConfig(),
	}
}

// Export serializes state to JSON, then compresses and (optionally)
// encrypts it per opts.
func Export(state *State, opts *Options) ([]byte, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to marshal state: %w", err)
	}

	compressor, err := compression.NewCompressor(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to create compressor: %w", err)
	}
	defer compressor.Close()

	compressed, err := compressor.Compress(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to compress state: %w", err)
	}

	encryptor, err := encryption.NewEncryptor(opts.Encryption)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to create encryptor: %w", err)
	}

	blob, err := encryptor.Encrypt(compressed)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to encrypt state: %w", err)
	}
	return blob, nil
}

// Import reverses Export, decrypting then decompressing then decoding
// blob back into a State.
func Import(blob []byte, opts *Options) (*State, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	encryptor, err := encryption.NewEncryptor(opts.Encryption)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to create encryptor: %w", err)
	}
	compressed, err := encryptor.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to decrypt blob: %w", err)
	}

	compressor, err := compression.NewCompressor(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to create compressor: %w", err)
	}
	defer compressor.Close()

	raw, err := compressor.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to decompress blob: %w", err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("snapshot: failed to unmarshal state: %w", err)
	}
	return &state, nil
}
