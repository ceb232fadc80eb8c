package domain

import "time"

// ChallengeToken is the persisted record behind one issued captcha
// verification attempt. The token value is the external handle; everything
// else is state the service controls.
type ChallengeToken struct {
	ID        string     `bson:"_id"                  json:"id"`
	Token     string     `bson:"token"                json:"token"`
	ClientIP  string     `bson:"ip_address,omitempty" json:"-"`
	UserAgent string     `bson:"user_agent,omitempty" json:"-"`
	CreatedAt time.Time  `bson:"created_at"           json:"createdAt"`
	ExpiresAt time.Time  `bson:"expires_at"           json:"expiresAt"`
	Solved    bool       `bson:"solved"               json:"solved"`
	SolvedAt  *time.Time `bson:"solved_at,omitempty"  json:"solvedAt,omitempty"`
}

// Expired reports whether the record's lifetime has passed at the given
// instant.
func (t *ChallengeToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
