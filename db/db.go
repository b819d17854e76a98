package db

import (
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gitlab.com/stratomesh/provisioning-service/models"
)

// ConnectDatabase opens the sqlite database under dataDir and migrates the
// provisioner tables.
func ConnectDatabase(dataDir string) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(filepath.Join(dataDir, "provisioner.db")), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := database.AutoMigrate(
		&models.MachinePromise{},
		&models.MachineAllocation{},
		&models.MachineReputation{},
		&models.BenchmarkJob{},
	); err != nil {
		return nil, err
	}

	return database, nil
}
