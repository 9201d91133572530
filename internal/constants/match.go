package constants

// Match teams.
const (
	TeamNone byte = 0
	TeamBlue byte = 1
	TeamRed  byte = 2
)

// Match team types.
const (
	TeamTypeHeadToHead byte = 0
	TeamTypeTagCoop    byte = 1
	TeamTypeTeamVS     byte = 2
	TeamTypeTagTeamVS  byte = 3
)

// Match scoring types.
const (
	ScoringScore    byte = 0
	ScoringAccuracy byte = 1
	ScoringCombo    byte = 2
	ScoringScoreV2  byte = 3
)

// Match mod modes. Normal keeps one mod set on the match; FreeMod lets
// every slot pick its own, with only speed mods staying match-wide.
const (
	ModModeNormal  byte = 0
	ModModeFreeMod byte = 1
)
