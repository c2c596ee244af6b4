// Package tasks holds the periodic background jobs: deposit confirmation,
// buy expiry, PIX payment reconciliation, dispute settlement, advertisement
// finishing and payment-request verification. Each task is registered on the
// scheduler and isolated from its peers; a failing tick logs and retries on
// the next interval.
package tasks

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "tasks")
