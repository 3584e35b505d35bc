package etcd

import (
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Key prefixes for the publishing engine's persisted records.
const (
	JobDir       = "/publisher/jobs/"
	PreflightDir = "/publisher/preflights/"
	ExecutionDir = "/publisher/executions/"
	RollbackDir  = "/publisher/rollbacks/"
	AuditDir     = "/publisher/audit/"
	ClaimDir     = "/publisher/claims/"
)

// NewClient connects to the etcd cluster backing all repositories.
func NewClient(endpoints []string, timeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return cli, nil
}
