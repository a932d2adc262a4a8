package bookmarks

import "time"

// Bookmark marks a project or, when MessageID is set, a single message
// within it. At most one row exists per (user, project, message); toggling
// off hard-deletes the row. SQLite treats NULLs as distinct in unique
// indexes, so project-level rows get their own partial index.
type Bookmark struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null"`
	UserID    string    `gorm:"column:user_id;size:36;not null;uniqueIndex:idx_bookmarks_target,priority:1;index:idx_bookmarks_project_level,unique,where:message_id IS NULL,priority:1"`
	ProjectID string    `gorm:"column:project_id;size:36;not null;uniqueIndex:idx_bookmarks_target,priority:2;index:idx_bookmarks_project_level,priority:2"`
	MessageID *string   `gorm:"column:message_id;size:36;uniqueIndex:idx_bookmarks_target,priority:3"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing bookmarks.
func (Bookmark) TableName() string {
	return "bookmarks"
}

// IsProjectLevel reports whether the bookmark targets the project itself.
func (b Bookmark) IsProjectLevel() bool {
	return b.MessageID == nil
}
