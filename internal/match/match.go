// Package match holds the match vocabulary shared with the external
// match-state service: statuses, game types and admission tokens.
package match

import "strings"

type Status string

const (
	StatusQueuing    Status = "Queuing"
	StatusWaiting    Status = "Waiting"
	StatusPlaying    Status = "Playing"
	StatusFinished   Status = "Finished"
	StatusTerminated Status = "Terminated"
)

// ActionableStatuses are the statuses the orchestrator still has work for.
var ActionableStatuses = []Status{StatusQueuing, StatusWaiting, StatusPlaying}

func (s Status) Actionable() bool {
	switch s {
	case StatusQueuing, StatusWaiting, StatusPlaying:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusTerminated
}

type GameType string

const (
	GameTypePVP     GameType = "pvp"
	GameTypeBedwars GameType = "bedwars"
	GameTypeCTF     GameType = "ctf"
)

var tokensPerTeam = map[GameType]int{
	GameTypePVP:     1,
	GameTypeBedwars: 4,
	GameTypeCTF:     5,
}

// TokensPerTeam mirrors the service's static table. Unknown types count as
// one token per team, the same fallback the service applies.
func TokensPerTeam(t GameType) int {
	if n, ok := tokensPerTeam[GameType(strings.ToLower(string(t)))]; ok {
		return n
	}
	return 1
}

type Match struct {
	ID             string   `json:"matchId"`
	Status         Status   `json:"status"`
	Type           GameType `json:"matchType"`
	BlueTeamID     string   `json:"blueTeamId"`
	RedTeamID      string   `json:"redTeamId"`
	WinnerPlayerID string   `json:"winnerPlayerId,omitempty"`
}

type Info struct {
	BlueTeamID string `json:"blueTeamId"`
	RedTeamID  string `json:"redTeamId"`
	Status     Status `json:"status"`
}

type Token struct {
	Value      string `json:"token"`
	GameTeamID string `json:"gameTeamId"`
	UserID     string `json:"userId,omitempty"`
}

func (t Token) Used() bool {
	return strings.TrimSpace(t.UserID) != ""
}

type Readiness struct {
	Ready       bool `json:"ready"`
	TotalTokens int  `json:"totalTokens"`
	UsedTokens  int  `json:"usedTokens"`
}

// Startable is the readiness predicate the orchestrator acts on. The service's
// own ready flag is not trusted by itself.
func (r Readiness) Startable() bool {
	return r.TotalTokens > 0 && r.UsedTokens == r.TotalTokens
}

// Remaining is the number of tokens still waiting to be consumed.
func (r Readiness) Remaining() int {
	if r.UsedTokens >= r.TotalTokens {
		return 0
	}
	return r.TotalTokens - r.UsedTokens
}
