package model

import "time"

// CapabilityType classifies what a Capability represents.
type CapabilityType string

const (
	CapabilityTool      CapabilityType = "tool"
	CapabilitySkill     CapabilityType = "skill"
	CapabilityKnowledge CapabilityType = "knowledge"
	CapabilityWorkflow  CapabilityType = "workflow"
)

// Capability describes one thing an agent can do.
type Capability struct {
	Name         string         `json:"name"`
	Type         CapabilityType `json:"type"`
	InputSchema  []byte         `json:"inputSchema,omitempty"`
	OutputSchema []byte         `json:"outputSchema,omitempty"`
	Available    bool           `json:"available"`
}

// InteractionModality describes a way of exchanging content with an
// agent. Custom modalities carry a Name; the built-in ones don't.
type InteractionModality struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

const (
	ModalityText       = "text"
	ModalityForms      = "forms"
	ModalityMedia      = "media"
	ModalityFiles      = "files"
	ModalityStreaming  = "streaming"
	ModalityCustomKind = "custom"
)

// TrustLevel is an ordered tier used for discovery filtering and
// authorization (§4.7). Higher values are more trusted.
type TrustLevel int

const (
	TrustPublic   TrustLevel = 1
	TrustVerified TrustLevel = 3
	TrustTrusted  TrustLevel = 7
	TrustInternal TrustLevel = 10
)

// AtLeast reports whether t meets or exceeds the minimum required level.
func (t TrustLevel) AtLeast(min TrustLevel) bool { return t >= min }

// AgentStatus is the liveness/availability state the registry tracks for
// a registered agent card.
type AgentStatus string

const (
	StatusOnline      AgentStatus = "online"
	StatusOffline     AgentStatus = "offline"
	StatusBusy        AgentStatus = "busy"
	StatusMaintenance AgentStatus = "maintenance"
	StatusError       AgentStatus = "error"
)

// Endpoint is one address an agent can be reached at.
type Endpoint struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Protocol string `json:"protocol,omitempty"`
	Auth     string `json:"auth,omitempty"`
}

// AgentCard is the authoritative, registry-owned description of a
// registered agent: what it can do, where to reach it, and how much it
// is trusted.
type AgentCard struct {
	ID                   AgentId                `json:"id"`
	Name                 string                 `json:"name"`
	Version              string                 `json:"version"`
	Description          string                 `json:"description,omitempty"`
	Capabilities         []Capability           `json:"capabilities"`
	Endpoints            []Endpoint             `json:"endpoints"`
	InteractionModalities []InteractionModality `json:"interactionModalities"`
	SupportedTaskTypes   []string               `json:"supportedTaskTypes"`
	TrustLevel           TrustLevel             `json:"trustLevel"`
	Tags                 []string               `json:"tags,omitempty"`
	Status               AgentStatus            `json:"status"`
	CreatedAt            time.Time              `json:"createdAt"`
	UpdatedAt            time.Time              `json:"updatedAt"`
	ExpiresAt            *time.Time             `json:"expiresAt,omitempty"`
}

// HasCapability reports whether the card advertises an available
// capability with the given name.
func (c *AgentCard) HasCapability(name string) bool {
	for _, cap := range c.Capabilities {
		if cap.Name == name && cap.Available {
			return true
		}
	}
	return false
}
