package models

// Well-known channel ids. Both are created at startup and never removed.
const (
	SystemChannel int64 = 0
	GlobalChannel int64 = 1
)

// Action is the last action a player selected
type Action string

const (
	ActionNone       Action = "NONE"
	ActionBattle     Action = "BATTLE"
	ActionMetalScrap Action = "METAL_SCRAP"
	ActionElecScrap  Action = "ELEC_SCRAP"
	ActionBioScrap   Action = "BIO_SCRAP"
)

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionBattle, ActionMetalScrap, ActionElecScrap, ActionBioScrap:
		return true
	}
	return false
}

// UserProfile is the public part of a user record
type UserProfile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Resources holds what a player owns
type Resources struct {
	Metal int64 `json:"metal"`
	Elec  int64 `json:"elec"`
	Bio   int64 `json:"bio"`
}

// ActionMetadata tracks the selected action and how often each action has run
type ActionMetadata struct {
	LastAction  Action `json:"lastAction"`
	BattleCount int64  `json:"battleCount"`
	MetalCount  int64  `json:"metalCount"`
	ElecCount   int64  `json:"elecCount"`
	BioCount    int64  `json:"bioCount"`
}

// Player is a simulation entity. Values of this type crossing the
// unit boundary are snapshots, never shared.
type Player struct {
	User      UserProfile    `json:"user"`
	Resources Resources      `json:"resources"`
	Actions   ActionMetadata `json:"actions"`
}

// NewPlayer returns a fresh player record for a user that has never been saved
func NewPlayer(id int64, username string) Player {
	return Player{
		User:    UserProfile{ID: id, Username: username},
		Actions: ActionMetadata{LastAction: ActionNone},
	}
}
