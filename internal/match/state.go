package match

// State is one telemetry snapshot of a match as sent to the service.
type State struct {
	SnapshotID     string        `json:"snapshotId"`
	Timestamp      int64         `json:"timestamp"`
	MatchID        string        `json:"matchId"`
	Players        []PlayerState `json:"players"`
	MatchEnded     bool          `json:"matchEnded,omitempty"`
	FinalState     bool          `json:"finalState,omitempty"`
	WinnerPlayerID string        `json:"winnerPlayerId,omitempty"`
}

type PlayerState struct {
	PlayerID      string    `json:"playerId"`
	IGN           string    `json:"ign"`
	Health        float64   `json:"health"`
	MaxHealth     float64   `json:"maxHealth"`
	FoodLevel     int       `json:"foodLevel"`
	Position      Position  `json:"position"`
	Equipment     Equipment `json:"equipment"`
	Kills         int       `json:"kills"`
	Deaths        int       `json:"deaths"`
	NearbyPlayers int       `json:"nearbyPlayers"`
}

type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	World string  `json:"world"`
}

type Equipment struct {
	MainHand   string `json:"mainHand"`
	Helmet     string `json:"helmet"`
	Chestplate string `json:"chestplate"`
	Leggings   string `json:"leggings"`
	Boots      string `json:"boots"`
}
