// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	log "github.com/sirupsen/logrus"
)

// applyVerbosity maps Config.Verbosity onto a logrus level for this
// process: 0 disables debug/trace output entirely (the package still
// logs at Info/Warn for authentication and failures), higher values
// progressively reveal packet-level tracing.
func applyVerbosity(v int) {
	switch {
	case v <= 0:
		return
	case v == 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.TraceLevel)
	}
}
