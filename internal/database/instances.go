package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

func GetInstance(id string) (*Instance, error) {
	var inst Instance
	if err := DB.Where("id = ?", id).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

func ListInstances() ([]Instance, error) {
	var instances []Instance
	if err := DB.Order("name").Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

func CreateInstance(inst *Instance) error {
	return DB.Create(inst).Error
}

func UpdateInstance(inst *Instance) error {
	return DB.Save(inst).Error
}

// DeleteInstance removes the instance along with its cached executions and
// sync status.
func DeleteInstance(id string) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", id).Delete(&Execution{}).Error; err != nil {
			return fmt.Errorf("delete executions: %w", err)
		}
		if err := tx.Where("instance_id = ?", id).Delete(&SyncStatus{}).Error; err != nil {
			return fmt.Errorf("delete sync status: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&Instance{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveInstanceByName creates inst, or updates the existing instance with the
// same name in place (keeping its ID). Reports whether a row was created.
func SaveInstanceByName(inst *Instance) (bool, error) {
	var existing Instance
	err := DB.Where("name = ?", inst.Name).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return true, DB.Create(inst).Error
	case err != nil:
		return false, err
	}
	inst.ID = existing.ID
	inst.CreatedAt = existing.CreatedAt
	return false, DB.Save(inst).Error
}

// ConnectionChanged reports whether b differs from a in any field used to
// build the tunnel or the remote pool.
func ConnectionChanged(a, b *Instance) bool {
	return a.SSHHost != b.SSHHost ||
		a.SSHPort != b.SSHPort ||
		a.SSHUser != b.SSHUser ||
		a.SSHKeyPath != b.SSHKeyPath ||
		a.DBType != b.DBType ||
		a.DBHost != b.DBHost ||
		a.DBPort != b.DBPort ||
		a.DBName != b.DBName ||
		a.DBUser != b.DBUser ||
		a.DBPassword != b.DBPassword ||
		a.TablePrefix != b.TablePrefix
}

// NameTaken reports whether another instance than exceptID uses name.
func NameTaken(name, exceptID string) (bool, error) {
	var n int64
	err := DB.Model(&Instance{}).Where("name = ? AND id <> ?", name, exceptID).Count(&n).Error
	return n > 0, err
}
