package memory

import (
	"slices"
	"time"
)

// CommunicationStyle is the user's preferred response register.
type CommunicationStyle string

const (
	StyleConcise  CommunicationStyle = "concise"
	StyleDetailed CommunicationStyle = "detailed"
	StyleCasual   CommunicationStyle = "casual"
	StyleFormal   CommunicationStyle = "formal"
)

// Profile is the long-lived user horizon. Exactly one per user; concurrent
// writers resolve by last-writer-wins on LastUpdated.
type Profile struct {
	UserID             string             `json:"user_id"`
	Preferences        map[string]string  `json:"preferences,omitempty"`
	Goals              []string           `json:"goals,omitempty"`
	Expertise          []string           `json:"expertise,omitempty"`
	Projects           map[string]string  `json:"projects,omitempty"`
	CommunicationStyle CommunicationStyle `json:"communication_style,omitempty"`
	Who                string             `json:"who,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdated   time.Time `json:"last_updated"`
	LastLearnedAt time.Time `json:"last_learned_at,omitempty"`
}

// NewProfile creates an empty profile for a user.
func NewProfile(userID string) *Profile {
	now := time.Now()
	return &Profile{
		UserID:      userID,
		Preferences: map[string]string{},
		Projects:    map[string]string{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// SetPreference records a preference and bumps LastUpdated.
func (p *Profile) SetPreference(key, value string) {
	if p.Preferences == nil {
		p.Preferences = map[string]string{}
	}
	p.Preferences[key] = value
	p.LastUpdated = time.Now()
}

// AddGoal appends a goal, preserving order and skipping duplicates.
func (p *Profile) AddGoal(goal string) {
	if goal == "" || slices.Contains(p.Goals, goal) {
		return
	}
	p.Goals = append(p.Goals, goal)
	p.LastUpdated = time.Now()
}

// AddExpertise adds a tag to the expertise set.
func (p *Profile) AddExpertise(tag string) {
	if tag == "" || slices.Contains(p.Expertise, tag) {
		return
	}
	p.Expertise = append(p.Expertise, tag)
	p.LastUpdated = time.Now()
}

// Merge folds a learned delta into the profile. Scalar fields follow
// last-writer-wins: the delta only overwrites when it is newer.
func (p *Profile) Merge(delta *Profile) {
	if delta == nil {
		return
	}
	newer := delta.LastUpdated.After(p.LastUpdated)
	for k, v := range delta.Preferences {
		if p.Preferences == nil {
			p.Preferences = map[string]string{}
		}
		if _, exists := p.Preferences[k]; !exists || newer {
			p.Preferences[k] = v
		}
	}
	for _, g := range delta.Goals {
		if !slices.Contains(p.Goals, g) {
			p.Goals = append(p.Goals, g)
		}
	}
	for _, e := range delta.Expertise {
		if !slices.Contains(p.Expertise, e) {
			p.Expertise = append(p.Expertise, e)
		}
	}
	for k, v := range delta.Projects {
		if p.Projects == nil {
			p.Projects = map[string]string{}
		}
		if _, exists := p.Projects[k]; !exists || newer {
			p.Projects[k] = v
		}
	}
	if newer {
		if delta.CommunicationStyle != "" {
			p.CommunicationStyle = delta.CommunicationStyle
		}
		if delta.Who != "" {
			p.Who = delta.Who
		}
	}
	p.LastUpdated = time.Now()
}
