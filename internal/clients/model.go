package clients

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status of a client record.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusDischarged Status = "discharged"
)

// Client is a person receiving care. Every row carries a version that is
// bumped on each update.
type Client struct {
	ID          uuid.UUID `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	Status      Status    `json:"status"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Ref renders the audit value reference, e.g. "client:<id>@v3". Audit entries
// carry references, never the record contents.
func (c Client) Ref() string {
	return fmt.Sprintf("client:%s@v%d", c.ID, c.Version)
}

// Input is the writable part of a client.
type Input struct {
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	DateOfBirth string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Phone       string `json:"phone" validate:"omitempty,max=32"`
	Email       string `json:"email" validate:"omitempty,email"`
	Status      Status `json:"status" validate:"omitempty,oneof=active inactive discharged"`
}

// ListFilter pages through clients.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 25
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchPattern turns Search into an ILIKE prefix pattern with wildcards in
// the input escaped. An empty search yields "".
func (f ListFilter) searchPattern() string {
	search := strings.TrimSpace(f.Search)
	if search == "" {
		return ""
	}
	return likeEscaper.Replace(search) + "%"
}
