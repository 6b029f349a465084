// Package store persists enrolled prints keyed by (user, driver,
// device-id, finger), per SPEC_FULL.md §4.1. It mirrors the teacher's
// database package in spirit (lifecycle Init/Deinit, a Config/DefaultConfig
// pair, heavy doc comments on exported methods) but the contract is kept
// deliberately narrow and storage-engine agnostic so a second backend can
// satisfy it without touching any caller.
package store

import (
	"fmt"
	"os"
	"strings"

	"github.com/fprintd-go/fprintd"
)

// Store is the pluggable print-persistence contract (§4.1, §9 "Opaque
// polymorphism over storage"). Implementations must satisfy:
//   - DiscoverPrints agrees exactly with the set of fingers for which Load
//     returns success.
//   - Load rejects a record whose (finger, username) disagree with the
//     request, even if it was found at the expected key.
type Store interface {
	// Init prepares the store for use (e.g. creating the root directory,
	// opening a database connection, running migrations).
	Init() error
	// Deinit releases any resources acquired by Init.
	Deinit() error

	// Save persists p, overwriting any existing print at the same
	// (username, driver, device-id, finger) key.
	Save(p fprintd.Print) error
	// Load returns the print at (driver, deviceID, finger, username), or a
	// *fprintd.Error with KindNoEnrolledPrints if absent or mismatched.
	Load(driver, deviceID string, finger fprintd.Finger, username string) (fprintd.Print, error)
	// Delete removes the print at the given key. It is not an error if no
	// such print exists; callers distinguish via DiscoverPrints.
	Delete(driver, deviceID string, finger fprintd.Finger, username string) error

	// DiscoverPrints lists the fingers enrolled for username on the given
	// device.
	DiscoverPrints(driver, deviceID string, username string) ([]fprintd.Finger, error)
	// DiscoverUsers lists every username with at least one enrolled print,
	// across all devices.
	DiscoverUsers() ([]string, error)
	// AllPrints returns every print in the store, used by storage
	// reconciliation (§4.5) which must scan across all users.
	AllPrints() ([]fprintd.Print, error)
}

// Config selects and configures a Store implementation, parsed from the
// "[storage]" section of the config file (§6): Type is the literal "type"
// key ("file" or a pluggable module name); Path is backend-specific (a
// directory for "file", a DSN for "sqlite").
type Config struct {
	Type string
	Path string
}

// DefaultConfig mirrors the default root used by the real on-disk layout
// (§6), overridable by STATE_DIRECTORY.
func DefaultConfig() Config {
	return Config{Type: "file", Path: defaultRoot()}
}

// defaultRoot resolves the storage root: the first STATE_DIRECTORY entry
// (colon-separated, per §4.1) if set, else the compiled-in default.
func defaultRoot() string {
	if sd := os.Getenv("STATE_DIRECTORY"); sd != "" {
		if i := strings.IndexByte(sd, ':'); i >= 0 {
			return sd[:i]
		}
		return sd
	}
	return "/var/lib/fprint"
}

// factories holds the pluggable-store registry (§9: "static registration
// keyed off the config type field" replacing the source's dynamic
// symbol-loading path).
var factories = map[string]func(Config) (Store, error){}

// Register adds a Store constructor under the given config "type" name.
// Built-in backends call this from an init() func; third-party backends
// may do the same from their own package.
func Register(typ string, factory func(Config) (Store, error)) {
	factories[typ] = factory
}

// Open constructs the Store named by cfg.Type, defaulting to "file" when
// Type is empty.
func Open(cfg Config) (Store, error) {
	typ := cfg.Type
	if typ == "" {
		typ = "file"
	}
	factory, ok := factories[typ]
	if !ok {
		return nil, fprintd.NewError(fprintd.KindInternal, "store.Open", fmt.Errorf("unknown storage type %q", typ))
	}
	return factory(cfg)
}
