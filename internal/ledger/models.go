// Package ledger implements a two-phase resource authority backed by a
// serializable transactional store (gorm.io/gorm) and an in-process
// periodic balance-debit task.
package ledger

import "time"

// User is the persistent accounting entity: `balance` and
// `allocated_fee`, with the invariant that allocated_fee equals the
// sum of fees of this user's live allocations.
type User struct {
	ID           uint64  `gorm:"primarykey"`
	Balance      float64 `gorm:"type:double precision;not null;default:0"`
	AllocatedFee float64 `gorm:"type:double precision;not null;default:0"`
}

func (User) TableName() string { return "user" }

// Node is a worker with compute/memory capacity and current load.
// Invariant: 0 <= load <= capacity for both dimensions.
type Node struct {
	ID              uint64 `gorm:"primarykey"`
	Address         string `gorm:"type:varchar(255);not null"`
	ComputeCapacity float64 `gorm:"type:double precision;not null"`
	MemoryCapacity  float64 `gorm:"type:double precision;not null"`
	ComputeLoad     float64 `gorm:"type:double precision;not null;default:0"`
	MemoryLoad      float64 `gorm:"type:double precision;not null;default:0"`

	Capabilities []*NodeCapability `gorm:"foreignKey:NodeID"`
}

func (Node) TableName() string { return "node" }

// Capability is a named worker capability with resource and pricing
// metadata.
type Capability struct {
	ID        uint64  `gorm:"primarykey"`
	Name      string  `gorm:"type:varchar(100);not null;uniqueIndex"`
	Compute   float64 `gorm:"type:double precision;not null"`
	Memory    float64 `gorm:"type:double precision;not null"`
	FeeRate   float64 `gorm:"type:double precision;not null"`
	Languages string  `gorm:"type:varchar(255)"` // comma-joined; empty means unfiltered
}

func (Capability) TableName() string { return "capability" }

// NodeCapability records that a Node advertises a Capability.
type NodeCapability struct {
	ID           uint64 `gorm:"primarykey"`
	NodeID       uint64 `gorm:"not null;index"`
	CapabilityID uint64 `gorm:"not null;index"`

	Capability *Capability `gorm:"foreignKey:CapabilityID"`
}

func (NodeCapability) TableName() string { return "node_capability" }

// TaskTypeTariffCapability maps a (task_type, tariff) pair to the set
// of capabilities required to serve it.
type TaskTypeTariffCapability struct {
	ID           uint64 `gorm:"primarykey"`
	TaskType     string `gorm:"type:varchar(50);not null;index:idx_task_tariff"`
	Tariff       string `gorm:"type:varchar(50);not null;index:idx_task_tariff"`
	CapabilityID uint64 `gorm:"not null;index"`

	Capability *Capability `gorm:"foreignKey:CapabilityID"`
}

func (TaskTypeTariffCapability) TableName() string { return "task_type_tariff_capability" }

// TaskType enumerates the two worker kinds the worker-pool facade
// allocates for.
type TaskType string

const (
	TaskTypeSegmenter   TaskType = "segmenter"
	TaskTypeTranscriber TaskType = "transcriber"
)

// AllocationRecord is the row-level state an Allocation is built from;
// it does not persist as its own table — the ledger reconstructs it from
// the node/capability rows touched during allocate.
type AllocationRecord struct {
	NodeID         uint64
	UserID         uint64
	Address        string
	Compute        float64
	Memory         float64
	Fee            float64
	CapabilityTags []string
	AllocatedAt    time.Time
}
