package testutils

// -------------------------------------------------------------------------------------------------
// Components
// -------------------------------------------------------------------------------------------------

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Position) Name() string {
	return "position"
}

type Velocity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Velocity) Name() string {
	return "velocity"
}

type Health struct {
	Value int `json:"value"`
}

func (Health) Name() string {
	return "health"
}

type Mass struct {
	Kg float32 `json:"kg"`
}

func (Mass) Name() string {
	return "mass"
}

type Label struct {
	Text string `json:"text"`
}

func (Label) Name() string {
	return "label"
}

// PlayerTag is a zero-sized marker component.
type PlayerTag struct{}

func (PlayerTag) Name() string {
	return "player_tag"
}
