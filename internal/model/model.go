// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the authorization role of a user.
type Role string

// Known roles.
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleUser }

// AuthType tells how a request authenticated.
type AuthType string

// Supported credential kinds.
const (
	AuthTypeJWT    AuthType = "jwt"
	AuthTypeAPIKey AuthType = "apikey"
)

// Tokens collects an issued access token and its expiry.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// User represents an account. Password and API key are stored only as hashes.
type User struct {
	ID              uuid.UUID
	Email           string // unique, lowercase
	PwdHash         []byte // Argon2id(password, PwdSalt); empty disables password login
	PwdSalt         []byte
	APIKeyHash      []byte // SHA-256 of the raw key; nil when revoked
	APIKeyPrefix    string // display prefix of the raw key
	APIKeyCreatedAt *time.Time
	Role            Role
	RateLimit       int // requests per window
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastLoginAt     *time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// HasAPIKey reports whether a live API key is assigned.
func (u *User) HasAPIKey() bool { return len(u.APIKeyHash) > 0 }

// AuthContext is the request-scoped result of credential resolution.
type AuthContext struct {
	User     User
	AuthType AuthType
}

// NewUser is an admin request to provision an account.
type NewUser struct {
	Email     string
	Password  string // optional; empty means API-key only
	Role      Role
	RateLimit int
}

// UserPatch carries optional changes to an account. Nil fields are left untouched.
type UserPatch struct {
	Email     *string
	Password  *string
	Role      *Role
	RateLimit *int
	IsActive  *bool
}

// Image is one validated data-URI image slot.
type Image struct {
	Slot     string // image1..image5
	MimeType string // image/jpeg, image/png, image/gif, image/webp
	Data     string // base64 payload without the data-URI prefix
	Size     int    // estimated decoded size in bytes
}

// ClassificationRequest is a validated classify payload.
type ClassificationRequest struct {
	Images       []Image // ordered by slot name
	BusinessName string  // empty when not supplied
	Metadata     any     // passed through untouched; nil when absent
}

// RequestID returns metadata.requestId when metadata is an object and the
// field is a string.
func (r ClassificationRequest) RequestID() string {
	m, _ := r.Metadata.(map[string]any)
	s, _ := m["requestId"].(string)
	return s
}

// Comparison scores a user-supplied business name against the classified type.
type Comparison struct {
	ProvidedName   string  `json:"providedName"`
	ClassifiedType string  `json:"classifiedType"`
	IsMatch        bool    `json:"isMatch"`
	MatchScore     float64 `json:"matchScore"`
	MatchReason    string  `json:"matchReason"`
	Method         string  `json:"method"` // "ai" or "keyword"
}

// Classification is the outcome of a successful classify call.
type Classification struct {
	BusinessType string
	Comparison   *Comparison
	ProcessedAt  time.Time
	Duration     time.Duration
}

// LogKind selects which log table an admin operation targets.
type LogKind string

// Log kinds.
const (
	LogKindRequest LogKind = "request"
	LogKindSystem  LogKind = "system"
	LogKindAll     LogKind = "all"
)

// RequestLog records the outcome of one classify call.
type RequestLog struct {
	ID           int64
	RequestID    string
	UserID       *uuid.UUID
	Endpoint     string
	Method       string
	StatusCode   int
	ErrorCode    string
	BusinessType string
	ImageCount   int
	DurationMS   int64
	ClientIP     string
	CreatedAt    time.Time
}

// SystemLog is a persisted warn-or-above log entry.
type SystemLog struct {
	ID        int64
	Level     string
	Message   string
	Context   map[string]any
	CreatedAt time.Time
}

// LogFilter narrows log listings.
type LogFilter struct {
	Since  time.Time
	Level  string // system logs only
	UserID *uuid.UUID
	Limit  int
}

// RequestStats aggregates request logs.
type RequestStats struct {
	Total          int64            `json:"total"`
	Succeeded      int64            `json:"succeeded"`
	Failed         int64            `json:"failed"`
	AvgDurationMS  float64          `json:"avgDurationMs"`
	ByBusinessType map[string]int64 `json:"byBusinessType"`
	ByStatus       map[int]int64    `json:"byStatus"`
}
