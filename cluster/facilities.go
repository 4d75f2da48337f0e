package cluster

//go:generate mockgen -destination=facilities_mock_test.go -package=cluster -source=facilities.go

import (
	"github.com/maxpoletaev/beacon/member"
)

// IdentityProvider describes the local node to the cluster.
type IdentityProvider interface {
	LocalMember() (*member.Member, error)
}
