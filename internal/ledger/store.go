package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// store is the transactional persistence seam. A real deployment wires
// *gormStore over postgres or sqlite (gorm.io/driver/postgres,
// gorm.io/driver/sqlite); tests wire an in-memory sqlite instance.
type store interface {
	// allocate runs the full allocate transaction body once (no
	// retries — the caller retries on serialization failure).
	allocate(ctx context.Context, userID uint64, taskType TaskType, tariff string) (*AllocationRecord, error)
	releaseAllocation(ctx context.Context, a *Allocation) error
	userBalance(ctx context.Context, userID uint64) (float64, error)
	debitAllocatedFees(ctx context.Context) error
}

// gormStore implements store over gorm.io/gorm.
type gormStore struct {
	db *gorm.DB
}

func newGormStore(db *gorm.DB) *gormStore { return &gormStore{db: db} }

// allocate locks the user row, resolves the (taskType, tariff)
// capability set, picks a node with enough head-room, and debits
// compute/memory/fee in one serializable transaction. Serializable
// isolation is chosen over repeatable-read because it gives the
// strongest guarantee against concurrent allocate races on the same
// node; the caller's retry budget assumes some serialization failures
// are expected.
func (s *gormStore) allocate(ctx context.Context, userID uint64, taskType TaskType, tariff string) (*AllocationRecord, error) {
	var rec *AllocationRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, userID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrUserNotFound
			}
			return err
		}
		if user.Balance <= 0 {
			return ErrNotEnoughBalance
		}

		var mappings []TaskTypeTariffCapability
		if err := tx.Preload("Capability").
			Where("task_type = ? AND tariff = ?", string(taskType), tariff).
			Find(&mappings).Error; err != nil {
			return err
		}
		if len(mappings) == 0 {
			return ErrNotEnoughResources
		}

		var compute, memory, fee float64
		tags := make([]string, 0, len(mappings))
		required := make(map[uint64]bool, len(mappings))
		for _, m := range mappings {
			if m.Capability == nil {
				continue
			}
			compute += m.Capability.Compute
			memory += m.Capability.Memory
			fee += m.Capability.FeeRate
			tags = append(tags, m.Capability.Name)
			required[m.CapabilityID] = true
		}

		node, err := s.findFittingNode(tx, compute, memory, required)
		if err != nil {
			return err
		}

		if err := tx.Model(&Node{}).Where("id = ?", node.ID).
			Updates(map[string]any{
				"compute_load": gorm.Expr("compute_load + ?", compute),
				"memory_load":  gorm.Expr("memory_load + ?", memory),
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&User{}).Where("id = ?", userID).
			Update("allocated_fee", gorm.Expr("allocated_fee + ?", fee)).Error; err != nil {
			return err
		}

		rec = &AllocationRecord{
			NodeID:         node.ID,
			UserID:         userID,
			Address:        node.Address,
			Compute:        compute,
			Memory:         memory,
			Fee:            fee,
			CapabilityTags: tags,
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})

	if err != nil {
		return nil, err
	}
	return rec, nil
}

// findFittingNode locates a node with enough remaining compute/memory
// head-room whose capability set covers every required capability.
func (s *gormStore) findFittingNode(tx *gorm.DB, compute, memory float64, required map[uint64]bool) (*Node, error) {
	var candidates []Node
	if err := tx.Preload("Capabilities").
		Where("compute_capacity - compute_load >= ? AND memory_capacity - memory_load >= ?", compute, memory).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	for i := range candidates {
		node := &candidates[i]
		have := make(map[uint64]bool, len(node.Capabilities))
		for _, nc := range node.Capabilities {
			have[nc.CapabilityID] = true
		}
		covers := true
		for capID := range required {
			if !have[capID] {
				covers = false
				break
			}
		}
		if covers {
			return node, nil
		}
	}
	return nil, ErrNotEnoughResources
}

func (s *gormStore) releaseAllocation(ctx context.Context, a *Allocation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Node{}).Where("id = ?", a.NodeID).
			Updates(map[string]any{
				"compute_load": gorm.Expr("compute_load - ?", a.Compute),
				"memory_load":  gorm.Expr("memory_load - ?", a.Memory),
			}).Error; err != nil {
			return err
		}
		return tx.Model(&User{}).Where("id = ?", a.UserID).
			Update("allocated_fee", gorm.Expr("allocated_fee - ?", a.Fee)).Error
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
}

func (s *gormStore) userBalance(ctx context.Context, userID uint64) (float64, error) {
	var user User
	if err := s.db.WithContext(ctx).Select("balance").First(&user, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.Balance, nil
}

// debitAllocatedFees settles every user with allocated_fee > 0:
// balance -= allocated_fee, in one statement so it is atomic per row
// without a transaction.
func (s *gormStore) debitAllocatedFees(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("allocated_fee > 0").
		Update("balance", gorm.Expr("balance - allocated_fee")).Error
	if err != nil {
		return fmt.Errorf("ledger: balance debit failed: %w", err)
	}
	return nil
}
