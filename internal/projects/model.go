package projects

import "time"

// Project is a collaborative workspace. Names are unique across the system;
// the persistence layer surfaces duplicates as an explicit conflict.
type Project struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null"`
	Name      string    `gorm:"column:name;size:190;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing projects.
func (Project) TableName() string {
	return "projects"
}

// Membership records one user's membership in one project. Position keeps
// the member list ordered, with the creator always first.
type Membership struct {
	ProjectID string    `gorm:"column:project_id;primaryKey;size:36;not null;index"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:36;not null;index"`
	Position  int       `gorm:"column:position;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing project memberships.
func (Membership) TableName() string {
	return "project_members"
}

// Detail is a project together with its ordered member ids.
type Detail struct {
	Project
	MemberIDs []string
}
