package store

import "time"

// File is the metadata of one stored upload.
type File struct {
	ID           uint    `gorm:"primaryKey"`
	OriginalName string  `gorm:"not null"`
	StoredName   string  `gorm:"not null;uniqueIndex"`
	Path         string  `gorm:"not null"` // Blob key
	Extension    string  `gorm:"size:10;not null"`
	MimeType     string  `gorm:"not null"`
	Size         int64   `gorm:"not null"`
	Description  *string `gorm:"size:30"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DescriptionOr returns the description or fallback when there is none.
func (f File) DescriptionOr(fallback string) string {
	if f.Description == nil || *f.Description == "" {
		return fallback
	}
	return *f.Description
}
