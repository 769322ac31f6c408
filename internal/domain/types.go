package domain

import "time"

// Record types as they are named on the record store and in push subscriptions.
const (
	RecordTypeBox   = "Box"
	RecordTypeItem  = "Item"
	RecordTypePhoto = "Photo"
)

type Box struct {
	ID          string
	Title       string
	Barcode     string
	ShareHandle string
	CreatedAt   time.Time
}

// Shared reports whether a share handle has been issued for the box.
func (b *Box) Shared() bool {
	return b.ShareHandle != ""
}

type Item struct {
	ID        string
	BoxID     string
	Name      string
	Note      string
	CreatedAt time.Time
}

type Photo struct {
	ID         string
	BoxID      string
	StorageKey string
	MimeType   string
	CreatedAt  time.Time
}
