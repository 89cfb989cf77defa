package model

import "github.com/google/uuid"

type OwnerRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	DisplayName string `json:"displayName"`
}

// Entity carries the searchable surface of a catalog entity.
type Entity struct {
	ID                 uuid.UUID  `json:"id"`
	Type               string     `json:"type"`
	Name               string     `json:"name"`
	DisplayName        string     `json:"displayName"`
	Description        string     `json:"description"`
	FullyQualifiedName string     `json:"fullyQualifiedName"`
	ServiceType        string     `json:"serviceType"`
	Tags               []string   `json:"tags"`
	ColumnNames        []string   `json:"columnNames"`
	Owners             []OwnerRef `json:"owners"`
	Deleted            bool       `json:"deleted"`
	UpdatedAt          int64      `json:"updatedAt"`
}

// SubjectContext identifies who triggered the mutation, for audit logs only.
type SubjectContext struct {
	Principal string `json:"principal"`
	Bot       bool   `json:"bot"`
}
