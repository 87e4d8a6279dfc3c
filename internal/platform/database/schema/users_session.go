// Copyright (c) 2026 Gatehouse. All rights reserved.

package schema

// UserSessionTable represents the 'users.session' table
type UserSessionTable struct {
	Table     string
	ID        string
	UserID    string
	CreatedAt string
	ExpiresAt string
}

// UserSession is the schema definition for users.session
var UserSession = UserSessionTable{
	Table:     "users.session",
	ID:        "id",
	UserID:    "userid",
	CreatedAt: "createdat",
	ExpiresAt: "expiresat",
}

// Columns returns all standard column names
func (t UserSessionTable) Columns() []string {
	return []string{
		t.ID, t.UserID, t.CreatedAt, t.ExpiresAt,
	}
}
