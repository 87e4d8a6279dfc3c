// Copyright (c) 2026 Gatehouse. All rights reserved.

package schema

// UserAccountTable represents the 'users.account' table
type UserAccountTable struct {
	Table          string
	ID             string
	Username       string
	Email          string
	Provider       string
	ProviderUserID string
	CreatedAt      string
	UpdatedAt      string
}

// UserAccount is the schema definition for users.account
var UserAccount = UserAccountTable{
	Table:          "users.account",
	ID:             "id",
	Username:       "username",
	Email:          "email",
	Provider:       "provider",
	ProviderUserID: "provideruserid",
	CreatedAt:      "createdat",
	UpdatedAt:      "updatedat",
}

// Columns returns all standard column names
func (t UserAccountTable) Columns() []string {
	return []string{
		t.ID, t.Username, t.Email, t.Provider, t.ProviderUserID, t.CreatedAt, t.UpdatedAt,
	}
}
