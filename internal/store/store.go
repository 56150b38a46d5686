package store

import (
	"context"
	"errors"

	"paperpos/backend/internal/domain"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidTransaction      = errors.New("invalid transaction")
	ErrDuplicate               = errors.New("duplicate")
	ErrTransactionsUnsupported = errors.New("transactions not supported by backend")
)

// Repository is the persistence boundary. Reads here see committed state;
// batch writes go through a UnitOfWork obtained from Begin.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, identifier string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListRecords(ctx context.Context, kind domain.RecordKind) ([]domain.Record, error)

	GetSnapshot(ctx context.Context) (*domain.DashboardSnapshot, error)
	SaveSnapshot(ctx context.Context, snapshot domain.DashboardSnapshot) error

	// Begin opens a unit of work. With transactional=false every write is
	// applied immediately and Commit/Rollback do nothing.
	Begin(ctx context.Context, transactional bool) (UnitOfWork, error)
	Topology(ctx context.Context) Topology
}

// UnitOfWork scopes every repository call made while processing one batch.
type UnitOfWork interface {
	FindProduct(ctx context.Context, identifier string) (*domain.Product, error)
	SaveProduct(ctx context.Context, product domain.Product) error
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	FindRecordByBillID(ctx context.Context, kind domain.RecordKind, billID string) (*domain.Record, error)
	CreateRecord(ctx context.Context, record domain.Record) (*domain.Record, error)
	UpdateRecordProgress(ctx context.Context, kind domain.RecordKind, id string, applied int, status domain.RecordStatus) error

	Transactional() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type TopologyKind string

const (
	TopologyUnknown    TopologyKind = ""
	TopologyStandalone TopologyKind = "standalone"
	TopologyReplicaSet TopologyKind = "replica_set"
	TopologySharded    TopologyKind = "sharded"
	TopologyRelational TopologyKind = "relational"
	TopologyInMemory   TopologyKind = "in_memory"
)

// Topology describes the deployment shape behind a Repository. Kind is the
// live probe result and may be unknown when the probe is unavailable.
type Topology struct {
	Kind           TopologyKind
	ReplicaSetName string
	URI            string
}
