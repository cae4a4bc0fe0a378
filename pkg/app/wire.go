package app

// Module registrations. Importing this package pulls in every built-in
// module so config can reference them by ID.
import (
	_ "github.com/tgrelay/tgrelay/internal/gateway"
	_ "github.com/tgrelay/tgrelay/internal/monitor"
	_ "github.com/tgrelay/tgrelay/modules/pairing/sqlite"
	_ "github.com/tgrelay/tgrelay/modules/processor/echo"
)
