package game

import (
	"fmt"

	"github.com/HimbeerserverDE/mohnet/msg"
)

const (
	GEntityNumBits = 10
	MaxGEntities   = 1 << GEntityNumBits

	// EntityNumNone terminates packet entity lists
	EntityNumNone  = MaxGEntities - 1
	EntityNumWorld = MaxGEntities - 2

	MaxFrameInfos      = 16
	NumBoneControllers = 5
)

// entity flags
const (
	EFTeleportBit = 1 << 2
	EFEveryFrame  = 1 << 3
	EFAntiSBJuice = 1 << 4
	EFDontProcess = 1 << 5
)

// solid encodings
const (
	SolidBModel = 0xffffff
)

type FrameInfo struct {
	Index  int32
	Time   float32
	Weight float32
}

type EntityState struct {
	Number int32
	EType  int32
	EFlags int32

	NetOrigin Vec3
	Origin2   Vec3
	NetAngles Vec3

	ConstantLight int32

	LoopSound        int32
	LoopSoundVolume  float32
	LoopSoundMinDist float32
	LoopSoundMaxDist float32
	LoopSoundPitch   float32
	LoopSoundFlags   int32

	Parent          int32
	TagNum          int32
	AttachUseAngles int32
	AttachOffset    Vec3

	BeamEntNum int32

	ModelIndex int32
	UsageIndex int32
	SkinNum    int32
	WasFrame   int32

	FrameInfo    [MaxFrameInfos]FrameInfo
	ActionWeight float32

	BoneTag    [NumBoneControllers]int32
	BoneAngles [NumBoneControllers]Vec3

	ClientNum       int32
	GroundEntityNum int32
	Solid           int32

	Scale      float32
	Alpha      float32
	RenderFx   int32
	ShaderData [2]float32
	ShaderTime float32
	Quat       [4]float32
	EyeVector  Vec3
}

// Family groups the protocol versions that share a wire layout
type Family uint8

const (
	// AA covers protocol versions 5 to 8
	AA Family = iota
	// TA covers protocol versions 15 to 17
	TA
)

func (f Family) String() string {
	switch f {
	case AA:
		return "AA"
	case TA:
		return "TA"
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

type entityFields = Table[EntityState]

func vec3Fields[T any](name string, bits int, kind Kind, p func(*T) *Vec3) []Field[T] {
	fs := make([]Field[T], 3)
	for i := range fs {
		i := i
		fs[i] = FloatField(fmt.Sprintf("%s[%d]", name, i), bits, kind, func(s *T) *float32 { return &p(s)[i] })
	}
	return fs
}

func frameTimes(from, to int) []Field[EntityState] {
	var fs []Field[EntityState]
	for i := from; i < to; i++ {
		i := i
		fs = append(fs, FloatField(fmt.Sprintf("frameInfo[%d].time", i), 15, Time,
			func(s *EntityState) *float32 { return &s.FrameInfo[i].Time }))
	}
	return fs
}

func frameWeights() []Field[EntityState] {
	var fs []Field[EntityState]
	for i := 0; i < MaxFrameInfos; i++ {
		i := i
		fs = append(fs, FloatField(fmt.Sprintf("frameInfo[%d].weight", i), 8, Alpha,
			func(s *EntityState) *float32 { return &s.FrameInfo[i].Weight }))
	}
	return fs
}

func frameIndices() []Field[EntityState] {
	var fs []Field[EntityState]
	for i := 0; i < MaxFrameInfos; i++ {
		i := i
		fs = append(fs, IntField(fmt.Sprintf("frameInfo[%d].index", i), 12, Regular,
			func(s *EntityState) *int32 { return &s.FrameInfo[i].Index }))
	}
	return fs
}

func boneAngles(from, to int) []Field[EntityState] {
	var fs []Field[EntityState]
	for b := from; b < to; b++ {
		b := b
		fs = append(fs, vec3Fields(fmt.Sprintf("bone_angles[%d]", b), -13, Angle,
			func(s *EntityState) *Vec3 { return &s.BoneAngles[b] })...)
	}
	return fs
}

func boneTags() []Field[EntityState] {
	var fs []Field[EntityState]
	for b := 0; b < NumBoneControllers; b++ {
		b := b
		fs = append(fs, IntField(fmt.Sprintf("bone_tag[%d]", b), -8, Regular,
			func(s *EntityState) *int32 { return &s.BoneTag[b] }))
	}
	return fs
}

func entityTable(origin Kind) entityFields {
	var t entityFields
	add := func(fs ...Field[EntityState]) { t = append(t, fs...) }
	o := vec3Fields("netorigin", 0, origin, func(s *EntityState) *Vec3 { return &s.NetOrigin })

	// ordered by how often the field changes
	add(o[0], o[1])
	add(FloatField("netangles[1]", 12, Angle, func(s *EntityState) *float32 { return &s.NetAngles[1] }))
	add(frameTimes(0, 2)...)
	add(boneAngles(0, 2)...)
	add(o[2])
	add(frameWeights()...)
	add(frameTimes(2, MaxFrameInfos)...)
	add(FloatField("actionWeight", 8, Alpha, func(s *EntityState) *float32 { return &s.ActionWeight }))
	add(frameIndices()...)
	add(boneAngles(2, NumBoneControllers)...)
	add(
		IntField("eType", 8, Regular, func(s *EntityState) *int32 { return &s.EType }),
		IntField("modelindex", 16, Regular, func(s *EntityState) *int32 { return &s.ModelIndex }),
		IntField("parent", 16, Regular, func(s *EntityState) *int32 { return &s.Parent }),
		IntField("constantLight", 32, Regular, func(s *EntityState) *int32 { return &s.ConstantLight }),
		IntField("renderfx", 32, Regular, func(s *EntityState) *int32 { return &s.RenderFx }),
	)
	add(boneTags()...)
	add(
		FloatField("scale", 10, Scale, func(s *EntityState) *float32 { return &s.Scale }),
		FloatField("alpha", 8, Alpha, func(s *EntityState) *float32 { return &s.Alpha }),
		IntField("usageIndex", 16, Regular, func(s *EntityState) *int32 { return &s.UsageIndex }),
		IntField("eFlags", 16, Regular, func(s *EntityState) *int32 { return &s.EFlags }),
		IntField("solid", 32, Regular, func(s *EntityState) *int32 { return &s.Solid }),
		FloatField("netangles[2]", 12, Angle, func(s *EntityState) *float32 { return &s.NetAngles[2] }),
		FloatField("netangles[0]", 12, Angle, func(s *EntityState) *float32 { return &s.NetAngles[0] }),
		IntField("tag_num", 10, Regular, func(s *EntityState) *int32 { return &s.TagNum }),
		IntField("attach_use_angles", 1, Regular, func(s *EntityState) *int32 { return &s.AttachUseAngles }),
	)
	add(vec3Fields("origin2", 0, origin, func(s *EntityState) *Vec3 { return &s.Origin2 })...)
	add(
		IntField("loopSound", 9, Regular, func(s *EntityState) *int32 { return &s.LoopSound }),
		FloatField("loopSoundVolume", 0, Regular, func(s *EntityState) *float32 { return &s.LoopSoundVolume }),
		FloatField("loopSoundMinDist", 0, Regular, func(s *EntityState) *float32 { return &s.LoopSoundMinDist }),
		FloatField("loopSoundMaxDist", 0, Regular, func(s *EntityState) *float32 { return &s.LoopSoundMaxDist }),
		FloatField("loopSoundPitch", 0, Regular, func(s *EntityState) *float32 { return &s.LoopSoundPitch }),
		IntField("loopSoundFlags", 8, Regular, func(s *EntityState) *int32 { return &s.LoopSoundFlags }),
		IntField("beam_entnum", 16, Regular, func(s *EntityState) *int32 { return &s.BeamEntNum }),
		IntField("clientNum", 8, Regular, func(s *EntityState) *int32 { return &s.ClientNum }),
		IntField("groundEntityNum", GEntityNumBits, Regular, func(s *EntityState) *int32 { return &s.GroundEntityNum }),
		FloatField("shader_data[0]", 0, Regular, func(s *EntityState) *float32 { return &s.ShaderData[0] }),
		FloatField("shader_data[1]", 0, Regular, func(s *EntityState) *float32 { return &s.ShaderData[1] }),
		FloatField("shader_time", 0, Regular, func(s *EntityState) *float32 { return &s.ShaderTime }),
	)
	add(vec3Fields("eyeVector", 0, Regular, func(s *EntityState) *Vec3 { return &s.EyeVector })...)
	for i := 0; i < 4; i++ {
		i := i
		add(FloatField(fmt.Sprintf("quat[%d]", i), 0, Regular, func(s *EntityState) *float32 { return &s.Quat[i] }))
	}
	add(
		IntField("skinNum", 16, Regular, func(s *EntityState) *int32 { return &s.SkinNum }),
		IntField("wasframe", 10, Regular, func(s *EntityState) *int32 { return &s.WasFrame }),
	)
	add(vec3Fields("attach_offset", 0, Regular, func(s *EntityState) *Vec3 { return &s.AttachOffset })...)
	return t
}

var (
	entityFieldsAA = entityTable(Regular)
	entityFieldsTA = entityTable(Coord)
)

// EntityFields returns the entity delta table of a family
func EntityFields(f Family) Table[EntityState] {
	if f == TA {
		return entityFieldsTA
	}
	return entityFieldsAA
}

// WriteDeltaEntity writes the entity number followed by a remove bit and,
// if kept, a delta against from. A nil to removes from. Unchanged entities
// are skipped unless force is set.
func WriteDeltaEntity(m *msg.Message, t Table[EntityState], from, to *EntityState, force bool) {
	if to == nil {
		if from == nil {
			return
		}
		m.WriteBits(uint32(from.Number), GEntityNumBits)
		m.WriteBits(1, 1)
		return
	}

	lc := t.LastChanged(from, to)
	if lc == 0 {
		if !force {
			return
		}
		m.WriteBits(uint32(to.Number), GEntityNumBits)
		m.WriteBits(0, 1)
		m.WriteBits(0, 1)
		return
	}

	m.WriteBits(uint32(to.Number), GEntityNumBits)
	m.WriteBits(0, 1)
	m.WriteBits(1, 1)
	m.WriteBits(uint32(lc), 8)
	t.saveFields(m, from, to, lc)
}

// ReadDeltaEntity reads the part after the entity number. It reports
// false if the entity was removed.
func ReadDeltaEntity(m *msg.Message, t Table[EntityState], from, to *EntityState, number int32) (bool, error) {
	if number < 0 || number >= MaxGEntities {
		return false, fmt.Errorf("game: bad entity number %d", number)
	}

	remove, err := m.ReadBits(1)
	if err != nil {
		return false, err
	}
	if remove != 0 {
		*to = EntityState{Number: EntityNumNone}
		return false, nil
	}

	delta, err := m.ReadBits(1)
	if err != nil {
		return false, err
	}
	if delta == 0 {
		*to = *from
		to.Number = number
		return true, nil
	}

	base := *from
	*to = base
	to.Number = number
	if err := t.LoadDelta(m, &base, to); err != nil {
		return false, fmt.Errorf("entity %d: %w", number, err)
	}
	return true, nil
}
