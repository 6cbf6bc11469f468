package database

import "editions/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.App{},
		&models.Collection{},
		&models.Post{},
		&models.Token{},
		&models.Purchase{},
		&models.Payout{},
		&models.Subscription{},
	}
}
