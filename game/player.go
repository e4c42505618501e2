package game

import (
	"fmt"

	"github.com/HimbeerserverDE/mohnet/msg"
)

const (
	MaxStats       = 32
	MaxActiveItems = 8
	MaxWeapons     = 16
)

// pm types
const (
	PMNormal = iota
	PMClimbWall
	PMNoclip
	PMDead
)

// pm flags
const (
	PMFDucked         = 1 << 0
	PMFViewProne      = 1 << 1
	PMFSpectating     = 1 << 2
	PMFRespawned      = 1 << 3
	PMFNoPrediction   = 1 << 4
	PMFFrozen         = 1 << 5
	PMFIntermission   = 1 << 6
	PMFSpectateFollow = 1 << 7
	PMFCameraView     = 1 << 8
	PMFNoMove         = 1 << 9
	PMFViewDuckRun    = 1 << 10
	PMFViewJumpStart  = 1 << 11
	PMFLevelExit      = 1 << 12
	PMFNoGravity      = 1 << 13
	PMFNoHUD          = 1 << 14
	PMFUnused         = 1 << 15
)

// camera flags
const (
	CFCameraAnglesAbsolute    = 1 << 0
	CFCameraAnglesIgnorePitch = 1 << 1
	CFCameraAnglesIgnoreYaw   = 1 << 2
	CFCameraAnglesAllowOffset = 1 << 3
	CFCameraAnglesTurretMode  = 1 << 4
	CFCameraCutBit            = 1 << 7
)

// PlayerState is the part of the game state that is predicted
// locally for the controlled client
type PlayerState struct {
	CommandTime int32
	PmType      int32
	BobCycle    int32
	PmFlags     int32
	PmRuntime   int32

	Origin   Vec3
	Velocity Vec3

	Gravity     int32
	Speed       int32
	DeltaAngles [3]int32

	GroundEntityNum int32
	Walking         int32
	GroundPlane     int32
	FeetFalling     int32
	FallDir         Vec3
	GroundNormal    Vec3

	ClientNum  int32
	ViewAngles Vec3
	ViewHeight int32
	LeanAngle  float32

	ViewModelAnim        int32
	ViewModelAnimChanged int32

	Stats         [MaxStats]int32
	ActiveItems   [MaxActiveItems]int32
	AmmoNameIndex [MaxWeapons]int32
	AmmoAmount    [MaxWeapons]int32
	MaxAmmoAmount [MaxWeapons]int32

	CurrentMusicMood    int32
	FallbackMusicMood   int32
	MusicVolume         float32
	MusicVolumeFadeTime float32
	ReverbType          int32
	ReverbLevel         float32

	Blend [4]float32
	Fov   float32

	CameraOrigin Vec3
	CameraAngles Vec3
	CameraTime   float32
	CameraOffset Vec3
	CameraPosOfs Vec3
	CameraFlags  int32
	DamageAngles Vec3

	// team assault only
	RadarInfo int32
	Voted     int32
}

type playerFields = Table[PlayerState]

func playerFloat(name string, bits int, kind Kind, p func(*PlayerState) *float32) Field[PlayerState] {
	return FloatField(name, bits, kind, p)
}

func playerInt(name string, bits int, p func(*PlayerState) *int32) Field[PlayerState] {
	return IntField(name, bits, Regular, p)
}

func playerTable(f Family) playerFields {
	origin, vel, velBits := Regular, Regular, 0
	if f == TA {
		origin, vel, velBits = Coord, Velocity, 20
	}

	var t playerFields
	add := func(fs ...Field[PlayerState]) { t = append(t, fs...) }
	o := vec3Fields("origin", 0, origin, func(s *PlayerState) *Vec3 { return &s.Origin })
	v := vec3Fields("velocity", velBits, vel, func(s *PlayerState) *Vec3 { return &s.Velocity })
	va := vec3Fields("viewangles", 0, Regular, func(s *PlayerState) *Vec3 { return &s.ViewAngles })
	da := func(i int) Field[PlayerState] {
		return playerInt(fmt.Sprintf("delta_angles[%d]", i), 16, func(s *PlayerState) *int32 { return &s.DeltaAngles[i] })
	}

	add(playerInt("commandTime", 32, func(s *PlayerState) *int32 { return &s.CommandTime }))
	add(o[0], o[1], va[1], v[1], v[0], va[0])
	add(playerInt("pm_time", -16, func(s *PlayerState) *int32 { return &s.PmRuntime }))
	add(o[2], v[2])
	add(playerInt("iViewModelAnimChanged", 2, func(s *PlayerState) *int32 { return &s.ViewModelAnimChanged }))
	add(vec3Fields("damage_angles", -13, Angle, func(s *PlayerState) *Vec3 { return &s.DamageAngles })...)
	add(
		playerInt("speed", 16, func(s *PlayerState) *int32 { return &s.Speed }),
		da(1),
		playerInt("viewheight", -8, func(s *PlayerState) *int32 { return &s.ViewHeight }),
		playerInt("groundEntityNum", GEntityNumBits, func(s *PlayerState) *int32 { return &s.GroundEntityNum }),
		da(0),
		playerInt("iViewModelAnim", 4, func(s *PlayerState) *int32 { return &s.ViewModelAnim }),
		playerFloat("fov", 0, Regular, func(s *PlayerState) *float32 { return &s.Fov }),
		playerInt("current_music_mood", 8, func(s *PlayerState) *int32 { return &s.CurrentMusicMood }),
		playerInt("gravity", 16, func(s *PlayerState) *int32 { return &s.Gravity }),
		playerInt("fallback_music_mood", 8, func(s *PlayerState) *int32 { return &s.FallbackMusicMood }),
		playerFloat("music_volume", 0, Regular, func(s *PlayerState) *float32 { return &s.MusicVolume }),
		playerInt("pm_flags", 16, func(s *PlayerState) *int32 { return &s.PmFlags }),
		playerInt("clientNum", 8, func(s *PlayerState) *int32 { return &s.ClientNum }),
		playerFloat("fLeanAngle", 0, Regular, func(s *PlayerState) *float32 { return &s.LeanAngle }),
	)
	for _, i := range []int{3, 0, 1, 2} {
		i := i
		add(playerFloat(fmt.Sprintf("blend[%d]", i), 0, Regular, func(s *PlayerState) *float32 { return &s.Blend[i] }))
	}
	add(
		playerInt("pm_type", 8, func(s *PlayerState) *int32 { return &s.PmType }),
		playerInt("feetfalling", 8, func(s *PlayerState) *int32 { return &s.FeetFalling }),
	)
	add(vec3Fields("camera_angles", 16, Angle, func(s *PlayerState) *Vec3 { return &s.CameraAngles })...)
	add(vec3Fields("camera_origin", 0, Regular, func(s *PlayerState) *Vec3 { return &s.CameraOrigin })...)
	add(vec3Fields("camera_posofs", 0, Regular, func(s *PlayerState) *Vec3 { return &s.CameraPosOfs })...)
	add(
		playerFloat("camera_time", 0, Regular, func(s *PlayerState) *float32 { return &s.CameraTime }),
		playerInt("bobCycle", 8, func(s *PlayerState) *int32 { return &s.BobCycle }),
		da(2),
		va[2],
		playerFloat("music_volume_fade_time", 0, Regular, func(s *PlayerState) *float32 { return &s.MusicVolumeFadeTime }),
		playerInt("reverb_type", 6, func(s *PlayerState) *int32 { return &s.ReverbType }),
		playerFloat("reverb_level", 0, Regular, func(s *PlayerState) *float32 { return &s.ReverbLevel }),
	)
	add(vec3Fields("camera_offset", 0, Regular, func(s *PlayerState) *Vec3 { return &s.CameraOffset })...)
	add(
		playerInt("camera_flags", 16, func(s *PlayerState) *int32 { return &s.CameraFlags }),
		playerInt("walking", 1, func(s *PlayerState) *int32 { return &s.Walking }),
		playerInt("groundPlane", 1, func(s *PlayerState) *int32 { return &s.GroundPlane }),
	)
	add(vec3Fields("groundTrace.plane.normal", 0, Regular, func(s *PlayerState) *Vec3 { return &s.GroundNormal })...)
	add(vec3Fields("falldir", 0, Regular, func(s *PlayerState) *Vec3 { return &s.FallDir })...)

	if f == TA {
		add(
			playerInt("radarInfo", 26, func(s *PlayerState) *int32 { return &s.RadarInfo }),
			playerInt("bVoted", 1, func(s *PlayerState) *int32 { return &s.Voted }),
		)
	}
	return t
}

var (
	playerFieldsAA = playerTable(AA)
	playerFieldsTA = playerTable(TA)

	// PlayerArrays follows the field section of every player state delta
	PlayerArrays = Arrays[PlayerState]{
		{Name: "stats", Bits: -16, Get: func(s *PlayerState) []int32 { return s.Stats[:] }},
		{Name: "activeItems", Bits: 16, Get: func(s *PlayerState) []int32 { return s.ActiveItems[:] }},
		{Name: "ammo_name_index", Bits: 16, Get: func(s *PlayerState) []int32 { return s.AmmoNameIndex[:] }},
		{Name: "ammo_amount", Bits: 16, Get: func(s *PlayerState) []int32 { return s.AmmoAmount[:] }},
		{Name: "max_ammo_amount", Bits: 16, Get: func(s *PlayerState) []int32 { return s.MaxAmmoAmount[:] }},
	}
)

// PlayerFields returns the player state delta table of a family
func PlayerFields(f Family) Table[PlayerState] {
	if f == TA {
		return playerFieldsTA
	}
	return playerFieldsAA
}

// WriteDeltaPlayerState writes to relative to from, a nil from means
// the zero state
func WriteDeltaPlayerState(m *msg.Message, t Table[PlayerState], from, to *PlayerState) {
	if from == nil {
		from = &PlayerState{}
	}
	t.SaveDelta(m, from, to)
	PlayerArrays.Save(m, from, to)
}

func ReadDeltaPlayerState(m *msg.Message, t Table[PlayerState], from, to *PlayerState) error {
	base := PlayerState{}
	if from != nil {
		base = *from
	}

	*to = base
	if err := t.LoadDelta(m, &base, to); err != nil {
		return fmt.Errorf("playerstate: %w", err)
	}
	if err := PlayerArrays.Load(m, to); err != nil {
		return fmt.Errorf("playerstate: %w", err)
	}
	return nil
}
