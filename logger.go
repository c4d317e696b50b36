package proxycore

import "github.com/sirupsen/logrus"

// Log is the package-wide structured logger. cmd/meridianproxy sets its
// level from the -l/--log-level flag at startup; library code just logs through
// this instance, the same pattern a main package configuring a package-level
// logrus logger at startup uses.
var Log = logrus.New()
