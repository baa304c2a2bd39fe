package common

import (
	logging "github.com/ipfs/go-log"
)

// Logger is the shared logger for the whole library. Callers tune it with
// log.SetLogLevel("dissent", ...).
var Logger = logging.Logger("dissent")
