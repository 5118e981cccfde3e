package world

// DefaultTicksPerDay matches a 30ms tick and a ~2.2s game day.
const DefaultTicksPerDay = 74

// Clock is the simulation-logical time. It advances only with ticks, so
// every replica that has run the same ticks reads the same date.
type Clock struct {
	tick        uint64
	ticksPerDay uint64
}

func NewClock(ticksPerDay int) *Clock {
	if ticksPerDay <= 0 {
		ticksPerDay = DefaultTicksPerDay
	}
	return &Clock{ticksPerDay: uint64(ticksPerDay)}
}

// Advance moves the clock forward by one tick.
func (c *Clock) Advance() { c.tick++ }

func (c *Clock) Tick() uint64 { return c.tick }

// SetTick restores the clock from a save.
func (c *Clock) SetTick(t uint64) { c.tick = t }

// Date returns the number of whole days elapsed.
func (c *Clock) Date() int32 { return int32(c.tick / c.ticksPerDay) }
