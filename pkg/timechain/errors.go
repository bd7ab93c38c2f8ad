package timechain

import "errors"

// ErrParentNotFound reports that Add could not locate ctx's previous hash
// anywhere in the tip or forest. Recoverable: the caller queues the
// header as an orphan and retries once its parent arrives.
var ErrParentNotFound = errors.New("timechain: parent not found")

// ErrLocatorUnresolved reports a Get/Set against a locator whose slot no
// longer carries the expected hash, because it was pruned or reorged
// away. Get returns (zero, false); Set panics.
var ErrLocatorUnresolved = errors.New("timechain: locator does not resolve")
