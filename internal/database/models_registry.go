package database

import "parley/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.UserBlock{},
		&models.Conversation{},
		&models.Participant{},
		&models.Message{},
		&models.Attachment{},
		&models.Reaction{},
		&models.ReadTracker{},
		&models.MessageVisibility{},
		&models.Notification{},
	}
}
