package constants

// Gameplay mod bits as the client reports them.
const (
	ModNoMod       int32 = 0
	ModNoFail      int32 = 1
	ModEasy        int32 = 2
	ModTouchscreen int32 = 4
	ModHidden      int32 = 8
	ModHardRock    int32 = 16
	ModSuddenDeath int32 = 32
	ModDoubleTime  int32 = 64
	ModRelax       int32 = 128
	ModHalfTime    int32 = 256
	ModNightcore   int32 = 512
	ModFlashlight  int32 = 1024
	ModAutoplay    int32 = 2048
	ModSpunOut     int32 = 4096
	ModAutopilot   int32 = 8192
	ModPerfect     int32 = 16384
)

// ModsSpeedChanging is the subset of mods that alter the song rate.
// In free-mod matches these stay on the match itself so every player
// runs at the same speed.
const ModsSpeedChanging = ModDoubleTime | ModNightcore | ModHalfTime
