// Package database is the top-level entry point: it owns the Storage
// and Network Manager singletons for a process and lazily constructs
// one Collection per name, caching it for reuse.
package database

import (
	"sync"

	"github.com/knirv/knirvbase/internal/collection"
	"github.com/knirv/knirvbase/internal/crypto"
	"github.com/knirv/knirvbase/internal/network"
	"github.com/knirv/knirvbase/internal/storage"
	"github.com/knirv/knirvbase/internal/types"
)

// Options configures a Database at construction time.
type Options struct {
	// BaseDir is the directory documents and blobs are written under.
	BaseDir string
	// PeerID is this process's stable peer identifier. Empty generates
	// a random one.
	PeerID string
}

// Database is a peer's handle onto every collection it has opened and
// the network connections those collections replicate over.
type Database struct {
	storage *storage.Store
	network *network.Manager
	enc     *crypto.Manager

	mu          sync.Mutex
	collections map[string]*collection.Collection
}

// New builds a Database rooted at opts.BaseDir and starts its Network
// Manager's listener.
func New(opts Options) (*Database, error) {
	enc := crypto.NewManager()
	store, err := storage.New(opts.BaseDir, enc)
	if err != nil {
		return nil, err
	}
	net := network.New(opts.PeerID)
	if err := net.Initialize(""); err != nil {
		return nil, err
	}

	return &Database{
		storage:     store,
		network:     net,
		enc:         enc,
		collections: make(map[string]*collection.Collection),
	}, nil
}

// PeerID returns the underlying Network Manager's peer id.
func (d *Database) PeerID() string {
	return d.network.PeerID()
}

// EncryptionManager exposes the crypto.Manager so a caller can install
// or rotate the master key before inserting into sensitive collections.
func (d *Database) EncryptionManager() *crypto.Manager {
	return d.enc
}

// Collection returns the named collection, constructing and caching it
// on first use.
func (d *Database) Collection(name string) *collection.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.collections[name]; ok {
		return c
	}
	c := collection.New(name, d.storage, d.network)
	d.collections[name] = c
	return c
}

// CreateNetwork registers a new logical network.
func (d *Database) CreateNetwork(cfg types.NetworkConfig) (string, error) {
	return d.network.CreateNetwork(cfg)
}

// JoinNetwork joins an existing network via its bootstrap peers.
func (d *Database) JoinNetwork(networkID string, bootstrapPeers []string) error {
	return d.network.JoinNetwork(networkID, bootstrapPeers)
}

// LeaveNetwork leaves a network. Collections attached to it are not
// automatically detached — callers that want that call
// Collection(name).DetachFromNetwork() themselves.
func (d *Database) LeaveNetwork(networkID string) error {
	return d.network.LeaveNetwork(networkID)
}

// Shutdown stops the Network Manager, closing every live connection.
func (d *Database) Shutdown() error {
	return d.network.Shutdown()
}
