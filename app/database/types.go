package database

import (
	"time"
)

type BlockedAuthor struct {
	GUID      string
	Position  int
	CreatedAt time.Time
}

// FeedCursor records where a feed's last refresh stopped.
type FeedCursor struct {
	FeedName    string
	PagingToken string
	Items       int
	RefreshedAt time.Time
}
